package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/memstore"
)

func queuedTick(t *testing.T, ts int64) domain.DomainEvent {
	t.Helper()
	tick, err := domain.NewMarketTick(ts, "BTC-USD", 0, 0, 100, false, false, true)
	require.NoError(t, err)
	evt, err := domain.NewEvent(domain.KindMarketTick, ts, tick, nil)
	require.NoError(t, err)
	return evt
}

// TestWorker_FallbackInlineWriteWhenRingFull: with a capacity-1 ring and
// no consumer running, the second enqueue falls back to a direct store
// append and the drop counter increments exactly once.
func TestWorker_FallbackInlineWriteWhenRingFull(t *testing.T) {
	store := memstore.New()
	ring := NewRingBuffer(1, 4096)
	w := NewPersistenceWorker(ring, store, 16, time.Millisecond, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, w.Enqueue(ctx, queuedTick(t, 1)))

	second := queuedTick(t, 2)
	require.NoError(t, w.Enqueue(ctx, second))

	require.EqualValues(t, 1, w.Drops())
	require.EqualValues(t, 1, w.InlineWrites())

	events, err := store.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the fallback event reaches the store before the worker runs")
	require.Equal(t, second.ID, events[0].ID)
	require.EqualValues(t, 1, ring.Size(), "first event stays pending for the worker")
}

func TestWorker_DrainsRingIntoStoreInOrder(t *testing.T) {
	store := memstore.New()
	ring := NewRingBuffer(8, 4096)
	w := NewPersistenceWorker(ring, store, 4, 5*time.Millisecond, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx) }()

	e1, e2 := queuedTick(t, 1), queuedTick(t, 2)
	require.NoError(t, w.Enqueue(ctx, e1))
	require.NoError(t, w.Enqueue(ctx, e2))

	require.Eventually(t, func() bool {
		events, err := store.Read(context.Background(), 0)
		return err == nil && len(events) == 2
	}, time.Second, 5*time.Millisecond)

	ring.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown drained")
	}

	events, err := store.Read(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, e1.ID, events[0].ID)
	require.Equal(t, e2.ID, events[1].ID)
	require.EqualValues(t, 0, w.Drops())
}

func TestWorker_ShutdownDrainsRemainder(t *testing.T) {
	store := memstore.New()
	ring := NewRingBuffer(8, 4096)
	w := NewPersistenceWorker(ring, store, 4, time.Millisecond, nil, slog.Default())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, w.Enqueue(ctx, queuedTick(t, i)))
	}
	ring.Shutdown()

	done := make(chan struct{})
	go func() { defer close(done); w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not drain and exit")
	}

	events, err := store.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
}
