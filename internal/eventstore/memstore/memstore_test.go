package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func mustTick(t *testing.T, ts int64, symbol string) domain.DomainEvent {
	t.Helper()
	tick, err := domain.NewMarketTick(ts, symbol, 0, 0, 100, false, false, true)
	require.NoError(t, err)
	evt, err := domain.NewEvent(domain.KindMarketTick, ts, tick, nil)
	require.NoError(t, err)
	return evt
}

func TestStore_AppendAndRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := mustTick(t, 100, "BTC-USD")
	e2 := mustTick(t, 200, "BTC-USD")
	require.NoError(t, s.Append(ctx, e1, e2))

	out, err := s.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, e1.ID, out[0].ID)
	require.Equal(t, e2.ID, out[1].ID)

	out, err = s.Read(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, e2.ID, out[0].ID)
}

func TestStore_AppendDedupesByID(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := mustTick(t, 100, "BTC-USD")
	require.NoError(t, s.Append(ctx, e1))
	require.NoError(t, s.Append(ctx, e1))

	out, err := s.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestStore_AppendRejectsInvalidEventAndAppendsNothing(t *testing.T) {
	s := New()
	ctx := context.Background()

	bad := domain.DomainEvent{ID: "", Type: domain.KindMarketTick, Ts: 1}
	err := s.Append(ctx, bad)
	require.Error(t, err)

	out, err := s.Read(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestStore_SubscribeReceivesAppendedEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	ch, cancel := s.Subscribe(ctx)
	defer cancel()

	e1 := mustTick(t, 100, "BTC-USD")
	require.NoError(t, s.Append(ctx, e1))

	select {
	case got := <-ch:
		require.Equal(t, e1.ID, got.ID)
	default:
		t.Fatal("expected broadcast event, got none")
	}
}

func TestStore_SlowSubscriberDropsAreCounted(t *testing.T) {
	s := New()
	ctx := context.Background()
	ch, cancel := s.Subscribe(ctx)
	defer cancel()

	const extra = 10
	for i := 0; i < subscriberBuffer+extra; i++ {
		require.NoError(t, s.Append(ctx, mustTick(t, int64(i+1), "BTC-USD")))
	}

	require.EqualValues(t, extra, s.SubscriberDrops())
	require.Len(t, ch, subscriberBuffer, "subscriber keeps the oldest events, newest are dropped")

	out, err := s.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, subscriberBuffer+extra, "the log itself retains everything")
}

func TestStore_SnapshotAndRestoreRetainsNewerEvents(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx,
		mustTick(t, 100, "BTC-USD"), mustTick(t, 200, "BTC-USD"), mustTick(t, 300, "BTC-USD")))

	snap, err := s.CreateSnapshot(ctx, func(events []domain.DomainEvent) (any, error) {
		return map[string]int{"count": len(events)}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), snap.Ts)
	require.NotEmpty(t, snap.State)

	require.NoError(t, s.Append(ctx, mustTick(t, 400, "BTC-USD")))

	var restored map[string]any
	require.NoError(t, s.Restore(ctx, snap, func(state any) error {
		m, ok := state.(map[string]any)
		require.True(t, ok)
		restored = m
		return nil
	}))
	require.EqualValues(t, 3, restored["count"])

	out, err := s.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 1, "only events strictly newer than the snapshot survive")
	require.Equal(t, int64(400), out[0].Ts)
}

func TestStore_CloseClosesAllSubscribers(t *testing.T) {
	s := New()
	ch, _ := s.Subscribe(context.Background())
	require.NoError(t, s.Close())

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}
