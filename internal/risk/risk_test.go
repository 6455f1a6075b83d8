package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/clock"
	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func order(symbol string, side domain.Side, qty, px float64, exit bool) domain.OrderNew {
	o := domain.OrderNew{
		ID: symbol + string(side) + time.Now().String(), Symbol: symbol, Side: side,
		Qty: qty, Px: px, HasPx: true, Type: domain.OrderTypeLimit, TIF: domain.TIFDAY,
	}
	if exit {
		o.Meta = map[string]any{"exit": true}
	}
	return o
}

// TestRiskEngine_NotionalPositionThrottle walks one order through the
// notional gate, an allowed follow-up, and the throttle.
func TestRiskEngine_NotionalPositionThrottle(t *testing.T) {
	limits := config.RiskConfig{
		Notional:    1000,
		MaxPosition: 10,
		PriceBands:  map[string]config.PriceBand{"SIM": {Min: 90, Max: 110}},
		Throttle:    config.ThrottleConfig{WindowMs: 1000, MaxCount: 2},
	}
	c := clock.NewManual(time.Unix(0, 0))
	e := New(limits, c, nil, nil)

	o1 := order("SIM", domain.SideBuy, 20, 100, false)
	r1 := e.Check(o1)
	require.False(t, r1.Allowed)
	require.Equal(t, []string{"notional>1000"}, r1.Reasons)

	o2 := order("SIM", domain.SideBuy, 5, 100, false)
	r2 := e.Check(o2)
	require.True(t, r2.Allowed)
	require.Empty(t, r2.Reasons)

	o3 := order("SIM", domain.SideBuy, 5, 100, false)
	r3 := e.Check(o3)
	require.False(t, r3.Allowed)
	require.Contains(t, r3.Reasons, "throttle")
}

func TestRiskEngine_PositionLimit(t *testing.T) {
	limits := config.RiskConfig{MaxPosition: 10}
	c := clock.NewManual(time.Unix(0, 0))
	e := New(limits, c, nil, nil)

	require.True(t, e.Check(order("SIM", domain.SideBuy, 8, 100, false)).Allowed)
	r := e.Check(order("SIM", domain.SideBuy, 5, 100, false))
	require.False(t, r.Allowed)
	require.Equal(t, []string{"position>10"}, r.Reasons)
}

func TestRiskEngine_PriceBand(t *testing.T) {
	limits := config.RiskConfig{PriceBands: map[string]config.PriceBand{"SIM": {Min: 90, Max: 110}}}
	c := clock.NewManual(time.Unix(0, 0))
	e := New(limits, c, nil, nil)

	r := e.Check(order("SIM", domain.SideBuy, 1, 150, false))
	require.False(t, r.Allowed)
	require.Equal(t, []string{"price-band"}, r.Reasons)
}

func TestRiskEngine_ExitBypassesNotionalPriceBandThrottle(t *testing.T) {
	limits := config.RiskConfig{
		Notional:   100,
		PriceBands: map[string]config.PriceBand{"SIM": {Min: 90, Max: 110}},
		Throttle:   config.ThrottleConfig{WindowMs: 1000, MaxCount: 1},
	}
	c := clock.NewManual(time.Unix(0, 0))
	e := New(limits, c, nil, nil)

	require.True(t, e.Check(order("SIM", domain.SideBuy, 1, 100, false)).Allowed)
	// Exit reduces exposure so it must pass even though it would otherwise
	// trip notional/price-band/throttle.
	exit := order("SIM", domain.SideSell, 1, 500, true)
	r := e.Check(exit)
	require.True(t, r.Allowed, "reasons: %v", r.Reasons)
}

func TestRiskEngine_ExitCannotGrowExposure(t *testing.T) {
	limits := config.RiskConfig{MaxPosition: 10}
	c := clock.NewManual(time.Unix(0, 0))
	e := New(limits, c, nil, nil)

	require.True(t, e.Check(order("SIM", domain.SideBuy, 5, 100, false)).Allowed)
	// Tagged exit but actually grows the position: must still be rejected.
	r := e.Check(order("SIM", domain.SideBuy, 3, 100, true))
	require.False(t, r.Allowed)
	require.Equal(t, []string{"position>10"}, r.Reasons)
}

type fakeGuard struct {
	available map[string]float64
	reserved  map[string]float64
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{available: map[string]float64{}, reserved: map[string]float64{}}
}

func (g *fakeGuard) Available(asset string) float64 { return g.available[asset] }

func (g *fakeGuard) Reserve(asset string, amount float64) error {
	if g.available[asset] < amount {
		return errors.New("insufficient available")
	}
	g.available[asset] -= amount
	g.reserved[asset] += amount
	return nil
}

func (g *fakeGuard) Release(asset string, amount float64) {
	g.reserved[asset] -= amount
	g.available[asset] += amount
}

func TestRiskEngine_InsufficientQuoteAndBase(t *testing.T) {
	limits := config.RiskConfig{
		SymbolAssets: map[string]config.SymbolAssets{"SIM": {Base: "SIM", Quote: "USDT"}},
	}
	c := clock.NewManual(time.Unix(0, 0))
	guard := newFakeGuard()
	guard.available["USDT"] = 50
	guard.available["SIM"] = 1
	e := New(limits, c, guard, nil)

	buy := e.Check(order("SIM", domain.SideBuy, 1, 100, false))
	require.False(t, buy.Allowed)
	require.Equal(t, []string{"insufficient-quote"}, buy.Reasons)

	sell := e.Check(order("SIM", domain.SideSell, 5, 100, false))
	require.False(t, sell.Allowed)
	require.Equal(t, []string{"insufficient-base"}, sell.Reasons)
}

func TestRiskEngine_RevertRestoresExposureAndReservation(t *testing.T) {
	limits := config.RiskConfig{
		MaxPosition:  10,
		SymbolAssets: map[string]config.SymbolAssets{"SIM": {Base: "SIM", Quote: "USDT"}},
	}
	c := clock.NewManual(time.Unix(0, 0))
	guard := newFakeGuard()
	guard.available["USDT"] = 1000
	e := New(limits, c, guard, nil)

	o := order("SIM", domain.SideBuy, 5, 100, false)
	r := e.Check(o)
	require.True(t, r.Allowed)
	require.Equal(t, 5.0, e.Position("SIM"))
	require.Equal(t, 500.0, guard.reserved["USDT"])

	e.Revert(o)
	require.Equal(t, 0.0, e.Position("SIM"))
	require.Equal(t, 0.0, guard.reserved["USDT"])
	require.Equal(t, 1000.0, guard.available["USDT"])
}

func TestRiskEngine_KillSwitchRefusesNonExits(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(config.RiskConfig{MaxPosition: 100}, c, nil, nil)

	require.True(t, e.Check(order("SIM", domain.SideBuy, 5, 100, false)).Allowed)

	e.SetKillSwitch(true)
	r := e.Check(order("SIM", domain.SideBuy, 5, 100, false))
	require.False(t, r.Allowed)
	require.Equal(t, []string{"kill-switch"}, r.Reasons)

	// Exits still pass so the book can be flattened.
	require.True(t, e.Check(order("SIM", domain.SideSell, 5, 100, true)).Allowed)

	e.SetKillSwitch(false)
	require.True(t, e.Check(order("SIM", domain.SideBuy, 5, 100, false)).Allowed)
}
