package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// PersistenceWorker drains a RingBuffer into an event store on its own
// goroutine, decoupling producers from storage latency.
// On a failed append it logs and continues rather than exiting, since a
// stalled worker would eventually back the whole pipeline onto the inline
// fallback path.
type PersistenceWorker struct {
	ring      *RingBuffer
	store     ports.EventStore
	log       *slog.Logger
	metrics   ports.MetricsSink
	batchMax  int
	batchWait time.Duration

	drops    int64
	inlineWrites int64
}

// NewPersistenceWorker builds a worker over ring, writing through store.
// metrics may be nil.
func NewPersistenceWorker(ring *RingBuffer, store ports.EventStore, batchMax int, batchWait time.Duration, metrics ports.MetricsSink, log *slog.Logger) *PersistenceWorker {
	return &PersistenceWorker{
		ring:      ring,
		store:     store,
		log:       log.With("component", "persistence_worker"),
		metrics:   metrics,
		batchMax:  batchMax,
		batchWait: batchWait,
	}
}

// Run drains the ring until ctx is canceled or the ring is shut down and
// drained, then returns. It is meant to be called from its own goroutine.
func (w *PersistenceWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain(context.Background())
			return
		default:
		}

		if w.ring.IsShutdown() && w.ring.Size() == 0 {
			return
		}

		raw := w.ring.DequeueBatch(w.batchMax, w.batchWait)
		if len(raw) == 0 {
			continue
		}
		w.flush(ctx, raw)
	}
}

// drain flushes whatever remains in the ring without waiting for more,
// used once a shutdown signal fires so the worker exits promptly.
func (w *PersistenceWorker) drain(ctx context.Context) {
	for w.ring.Size() > 0 {
		raw := w.ring.DequeueBatch(w.batchMax, 0)
		if len(raw) == 0 {
			break
		}
		w.flush(ctx, raw)
	}
}

func (w *PersistenceWorker) flush(ctx context.Context, raw [][]byte) {
	events := make([]domain.DomainEvent, 0, len(raw))
	for _, payload := range raw {
		e, err := decode(payload)
		if err != nil {
			w.log.Error("failed to decode queued event, dropping", "error", err)
			continue
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return
	}
	if err := w.store.Append(ctx, events...); err != nil {
		w.log.Error("failed to append batch, dropping it", "error", err, "batch_size", len(events))
	}
}

// Enqueue attempts to hand event to the ring, falling back to a direct
// synchronous append when the ring is full. The ring is strictly
// single-producer: exactly one goroutine may call Enqueue — concurrent
// pipeline stages go through an Appender, whose funnel goroutine is that
// one producer.
func (w *PersistenceWorker) Enqueue(ctx context.Context, event domain.DomainEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	ok, err := w.ring.Enqueue(payload)
	if err != nil {
		w.log.Warn("event too large for queue slot, writing inline", "error", err, "event_id", event.ID)
		return w.inline(ctx, event)
	}
	if !ok {
		return w.inline(ctx, event)
	}
	return nil
}

// inline is the capacity-exhausted fallback. It is safe to call from any
// goroutine: the store serializes its own writes and the counters are
// atomic, so producers that find the funnel full write through directly.
func (w *PersistenceWorker) inline(ctx context.Context, event domain.DomainEvent) error {
	atomic.AddInt64(&w.drops, 1)
	atomic.AddInt64(&w.inlineWrites, 1)
	w.log.Warn("queue full, falling back to inline append", "event_id", event.ID)
	if w.metrics != nil {
		w.metrics.IncCounter("persistence_queue_drops", nil, 1)
		w.metrics.IncCounter("persistence_inline_writes", nil, 1)
	}
	return w.store.Append(ctx, event)
}

// Drops returns the number of times Enqueue fell back to inline writes
// because the ring was full or the payload didn't fit a slot.
func (w *PersistenceWorker) Drops() int64 { return atomic.LoadInt64(&w.drops) }

// InlineWrites returns the number of events written synchronously instead
// of through the ring.
func (w *PersistenceWorker) InlineWrites() int64 { return atomic.LoadInt64(&w.inlineWrites) }
