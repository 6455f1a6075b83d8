package intent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func tick(t *testing.T, symbol string, bid, ask float64) domain.MarketTick {
	t.Helper()
	mt, err := domain.NewMarketTick(1000, symbol, bid, ask, 0, true, true, false)
	require.NoError(t, err)
	return mt
}

func TestBuilder_TakerMarketBuy(t *testing.T) {
	policy := config.IntentPolicy{
		Mode:           "market",
		MinEdgeBps:     5,
		TakerFeeBps:    2,
		TakerSlipBps:   1,
		DefaultQty:     1,
		LotSize:        0.01,
		TimeInForce:    "IOC",
		CooldownMs:     0,
		DedupeWindowMs: 0,
	}
	b := New(policy)
	b.OnTick(tick(t, "SIM", 99.9, 100.1))

	signal := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 1000}
	order, ok, err := b.Build(signal, "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.SideBuy, order.Side)
	require.Equal(t, domain.OrderTypeMarket, order.Type)
	require.Equal(t, domain.LiquidityTaker, domain.Liquidity(order.Meta["liquidity"].(string)))
}

func TestBuilder_RejectsBelowRequiredEdge(t *testing.T) {
	policy := config.IntentPolicy{
		Mode:         "market",
		MinEdgeBps:   500, // deliberately unreachable
		TakerFeeBps:  2,
		TakerSlipBps: 1,
		DefaultQty:   1,
		TimeInForce:  "IOC",
	}
	b := New(policy)
	b.OnTick(tick(t, "SIM", 99.9, 100.1))

	signal := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 100.2, T: 1000}
	_, ok, err := b.Build(signal, "acct-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuilder_PostOnlyRejectsCrossingPrice(t *testing.T) {
	policy := config.IntentPolicy{
		Mode:           "limit",
		MinEdgeBps:     0,
		MakerFeeBps:    0,
		LimitOffsetBps: -1000, // pushes the maker price across the book
		PostOnly:       true,
		TickSize:       0.01,
		DefaultQty:     1,
		TimeInForce:    "DAY",
	}
	b := New(policy)
	b.OnTick(tick(t, "SIM", 99.9, 100.1))

	signal := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 105, T: 1000}
	_, ok, err := b.Build(signal, "acct-1")
	require.NoError(t, err)
	require.False(t, ok, "post-only maker price that crosses the book must not be emitted")
}

func TestBuilder_CooldownSuppressesRepeat(t *testing.T) {
	policy := config.IntentPolicy{
		Mode: "market", MinEdgeBps: 0, TakerFeeBps: 0, TakerSlipBps: 0,
		DefaultQty: 1, TimeInForce: "IOC", CooldownMs: 1000,
	}
	b := New(policy)
	b.OnTick(tick(t, "SIM", 99.9, 100.1))

	sig1 := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 1000}
	_, ok, err := b.Build(sig1, "acct-1")
	require.NoError(t, err)
	require.True(t, ok)

	sig2 := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 1500}
	_, ok, err = b.Build(sig2, "acct-1")
	require.NoError(t, err)
	require.False(t, ok, "within cooldown window")

	sig3 := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 2500}
	_, ok, err = b.Build(sig3, "acct-1")
	require.NoError(t, err)
	require.True(t, ok, "cooldown elapsed")
}

func TestBuilder_NoTickYieldsNoOrder(t *testing.T) {
	b := New(config.IntentPolicy{Mode: "market", DefaultQty: 1, TimeInForce: "IOC"})
	signal := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 1000}
	_, ok, err := b.Build(signal, "acct-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuilder_SizingRejectsZeroQty(t *testing.T) {
	policy := config.IntentPolicy{
		Mode: "market", MinEdgeBps: 0, TakerFeeBps: 0, TakerSlipBps: 0,
		NotionalUsd: 1, LotSize: 1000, TimeInForce: "IOC",
	}
	b := New(policy)
	b.OnTick(tick(t, "SIM", 99.9, 100.1))
	signal := domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 101, T: 1000}
	_, ok, err := b.Build(signal, "acct-1")
	require.NoError(t, err)
	require.False(t, ok, "qty rounds down to 0 when lotSize exceeds notional/execPx")
}
