package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/memstore"
)

// TestAppender_ConcurrentProducersAllPersist: many goroutines share one
// Appender; the funnel serializes them onto the ring and every event
// reaches the store exactly once, through the ring or the inline
// fallback.
func TestAppender_ConcurrentProducersAllPersist(t *testing.T) {
	store := memstore.New()
	ring := NewRingBuffer(64, 4096)
	w := NewPersistenceWorker(ring, store, 16, time.Millisecond, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx) }()

	a := NewAppender(ctx, w)

	const producers, perProducer = 8, 25
	events := make([]domain.DomainEvent, producers*perProducer)
	for i := range events {
		events[i] = queuedTick(t, int64(i+1))
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(batch []domain.DomainEvent) {
			defer wg.Done()
			for _, e := range batch {
				if err := a.Append(e); err != nil {
					t.Error(err)
				}
			}
		}(events[p*perProducer : (p+1)*perProducer])
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		got, err := store.Read(context.Background(), 0)
		return err == nil && len(got) == producers*perProducer
	}, 2*time.Second, 5*time.Millisecond)

	ring.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown")
	}
}
