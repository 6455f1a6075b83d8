package queue

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Appender is the multi-producer funnel in front of the single-producer
// ring: any number of pipeline goroutines call Append concurrently, and
// one funnel goroutine drains them in arrival order as the ring's only
// Enqueue caller. The ring's single-producer/single-consumer counters
// stay intact instead of being weakened for multi-producer use.
type Appender struct {
	ctx    context.Context
	worker *PersistenceWorker
	ch     chan domain.DomainEvent
}

// NewAppender builds an Appender over worker and starts its funnel
// goroutine, which runs until ctx is canceled, draining anything
// producers already handed over before it exits.
func NewAppender(ctx context.Context, worker *PersistenceWorker) *Appender {
	a := &Appender{
		ctx:    ctx,
		worker: worker,
		ch:     make(chan domain.DomainEvent, worker.ring.Capacity()),
	}
	go a.run()
	return a
}

// run is the single producer feeding the ring.
func (a *Appender) run() {
	for {
		select {
		case <-a.ctx.Done():
			for {
				select {
				case e := <-a.ch:
					if err := a.worker.Enqueue(context.Background(), e); err != nil {
						a.worker.log.Error("failed to persist event during drain", "error", err, "event_id", e.ID)
					}
				default:
					return
				}
			}
		case e := <-a.ch:
			if err := a.worker.Enqueue(a.ctx, e); err != nil {
				a.worker.log.Error("failed to persist event", "error", err, "event_id", e.ID)
			}
		}
	}
}

// Append hands event to the funnel without blocking the hot path. A full
// funnel takes the same capacity-exhausted path as a full ring: an
// inline synchronous store write, counted against the drop counters.
func (a *Appender) Append(event domain.DomainEvent) error {
	select {
	case a.ch <- event:
		return nil
	default:
	}
	select {
	case <-a.ctx.Done():
		return a.ctx.Err()
	default:
		return a.worker.inline(a.ctx, event)
	}
}
