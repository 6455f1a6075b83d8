package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func mustTick(t *testing.T, symbol string, ts int64, last float64) domain.MarketTick {
	t.Helper()
	tick, err := domain.NewMarketTick(ts, symbol, 0, 0, last, false, false, true)
	require.NoError(t, err)
	return tick
}

// TestMomentum_BuySignal: ticks 104,103,102,103,
// 104,105 with fastWindow=2, slowWindow=3 emit exactly one BUY at px=105.
func TestMomentum_BuySignal(t *testing.T) {
	feed := make(chan domain.MarketTick, 8)
	prices := []float64{104, 103, 102, 103, 104, 105}
	for i, px := range prices {
		feed <- mustTick(t, "SIM", int64(i+1), px)
	}
	close(feed)

	ctx := Context{TradeSymbol: "SIM", Marks: feed}
	out, err := NewMomentum(ctx, map[string]any{"fastWindow": 2.0, "slowWindow": 3.0})
	require.NoError(t, err)

	var signals []domain.StrategySignal
	for s := range out {
		signals = append(signals, s)
	}

	require.Len(t, signals, 1)
	require.Equal(t, domain.ActionBuy, signals[0].Action)
	require.Equal(t, 105.0, signals[0].Px)
}

// TestMomentum_RejectsBadWindows: fastWindow must be less
// than slowWindow, checked at construction time.
func TestMomentum_RejectsBadWindows(t *testing.T) {
	err := validateMomentumParams(map[string]any{"fastWindow": 10.0, "slowWindow": 5.0})
	require.Error(t, err)
}

// TestCrossoverDedupe: [BUY,BUY,SELL,SELL,BUY]
// through DedupeConsecutiveSignals yields [BUY,SELL,BUY].
func TestCrossoverDedupe(t *testing.T) {
	in := make(chan domain.StrategySignal, 8)
	actions := []domain.StrategyAction{
		domain.ActionBuy, domain.ActionBuy, domain.ActionSell, domain.ActionSell, domain.ActionBuy,
	}
	for i, a := range actions {
		in <- domain.StrategySignal{Symbol: "SIM", Action: a, Px: 100, T: int64(i)}
	}
	close(in)

	out := DedupeConsecutiveSignals(in)
	var got []domain.StrategyAction
	for s := range out {
		got = append(got, s.Action)
	}
	require.Equal(t, []domain.StrategyAction{domain.ActionBuy, domain.ActionSell, domain.ActionBuy}, got)
}

func TestWithSignalCooldown(t *testing.T) {
	in := make(chan domain.StrategySignal, 8)
	in <- domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 100, T: 0}
	in <- domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 100, T: 500}
	in <- domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 100, T: 1500}
	close(in)

	out := WithSignalCooldown(in, 1000)
	var ts []int64
	for s := range out {
		ts = append(ts, s.T)
	}
	require.Equal(t, []int64{0, 1500}, ts)
}
