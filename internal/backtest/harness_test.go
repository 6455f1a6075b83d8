package backtest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func fixtureTicks(t *testing.T) []domain.MarketTick {
	t.Helper()
	prices := []float64{100, 99, 98, 105, 104}
	ticks := make([]domain.MarketTick, 0, len(prices))
	for i, px := range prices {
		tick, err := domain.NewMarketTick(int64(i+1), "SIM", 0, 0, px, false, false, true)
		require.NoError(t, err)
		ticks = append(ticks, tick)
	}
	return ticks
}

// runFixture replays the five-tick fixture through a deterministic hook
// that opens one unit on the second tick and flattens it on the last.
func runFixture(t *testing.T) (*Harness, Stats) {
	t.Helper()
	h := New(time.UnixMilli(0), 10000, 0, slog.Default())

	h.SetTickHook(func(ctx context.Context, h *Harness, tick domain.MarketTick) {
		var side domain.Side
		switch tick.T {
		case 2:
			side = domain.SideBuy
		case 5:
			side = domain.SideSell
		default:
			return
		}
		order := domain.OrderNew{
			ID: domain.NewID(), T: tick.T, Symbol: "SIM", Side: side,
			Qty: 1, Type: domain.OrderTypeMarket, TIF: domain.TIFIOC, Account: "test",
		}
		require.NoError(t, h.Paper.Submit(ctx, order))
	})

	require.NoError(t, h.Replay(context.Background(), fixtureTicks(t)))

	stats, err := h.Stats(context.Background(), 5, time.Second)
	require.NoError(t, err)
	return h, stats
}

func TestHarness_ReplayFillsAndMarksToMarket(t *testing.T) {
	h, stats := runFixture(t)

	require.Equal(t, 5, stats.EventCounts[domain.KindMarketTick])
	require.Equal(t, 5, stats.EventCounts[domain.KindPnLAnalytics])
	require.Equal(t, 2, stats.EventCounts[domain.KindOrderAck])
	require.Equal(t, 2, stats.EventCounts[domain.KindOrderFill])

	// Bought at 99, sold at 104, no fees: one unit of realized PnL = 5.
	st := h.Positions().Get("SIM")
	require.Equal(t, 0.0, st.Pos)
	require.InDelta(t, 5, st.NetRealized(), 1e-9)

	require.InDelta(t, 10000, stats.NAVStart, 1e-9)
	require.InDelta(t, 10005, stats.NAVEnd, 1e-9)
	require.InDelta(t, 5, stats.NAVChange, 1e-9)
}

// TestHarness_RepeatedRunsAreIdentical checks the determinism contract:
// the same fixture and config produce the same event counts and NAV
// series on every run.
func TestHarness_RepeatedRunsAreIdentical(t *testing.T) {
	h1, stats1 := runFixture(t)
	h2, stats2 := runFixture(t)

	require.Equal(t, stats1.EventCounts, stats2.EventCounts)
	require.Equal(t, stats1.NAVStart, stats2.NAVStart)
	require.Equal(t, stats1.NAVEnd, stats2.NAVEnd)
	require.Equal(t, stats1.MaxDrawdownPct, stats2.MaxDrawdownPct)
	require.Equal(t, stats1.SharpeRatio, stats2.SharpeRatio)

	nav1, nav2 := h1.PnL().Series(), h2.PnL().Series()
	require.Equal(t, len(nav1), len(nav2))
	for i := range nav1 {
		require.Equal(t, nav1[i].NAV, nav2[i].NAV, "NAV diverged at point %d", i)
		require.Equal(t, nav1[i].T, nav2[i].T)
	}
}

func TestHarness_ReplaySortsOutOfOrderTicks(t *testing.T) {
	h := New(time.UnixMilli(0), 1000, 0, slog.Default())

	ticks := fixtureTicks(t)
	ticks[0], ticks[3] = ticks[3], ticks[0]

	require.NoError(t, h.Replay(context.Background(), ticks))

	events, err := h.Store.Read(context.Background(), 0)
	require.NoError(t, err)
	var lastTs int64
	for _, e := range events {
		require.GreaterOrEqual(t, e.Ts, lastTs)
		lastTs = e.Ts
	}
}
