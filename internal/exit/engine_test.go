package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/clock"
	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func warmSigma(e *Engine, symbol string, prices []float64, t0 int64) {
	for i, px := range prices {
		e.OnTick(symbol, px, t0+int64(i))
	}
}

func TestExit_TimeStop(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{MaxHoldMs: 1000})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)

	_, fired := e.OnTick("SIM", 100, 500)
	require.False(t, fired)

	d, fired := e.OnTick("SIM", 100, 1500)
	require.True(t, fired)
	require.Equal(t, ReasonTime, d.Reason)
}

func TestExit_MinHoldBlocksEarlyClose(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{MaxHoldMs: 100, MinHoldMs: 1000})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)

	_, fired := e.OnTick("SIM", 100, 200)
	require.False(t, fired, "min hold must suppress the time-stop that would otherwise fire")
}

func TestExit_TPSigma(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{TPSigma: 1.5, SLSigma: 1.5})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)

	// Warm up a small, stable sigma then push a large favorable move.
	prices := []float64{100, 100.1, 99.9, 100.05, 99.95, 100.1, 99.9}
	warmSigma(e, "SIM", prices, 1)
	d, fired := e.OnTick("SIM", 110, 100)
	require.True(t, fired)
	require.Equal(t, ReasonTP, d.Reason)
}

func TestExit_FairValueReversion(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{EpsilonBps: 10})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)
	e.OnSignal(domain.StrategySignal{Symbol: "SIM", Action: domain.ActionBuy, Px: 100, T: 0})

	d, fired := e.OnTick("SIM", 100.0005, 10)
	require.True(t, fired)
	require.Equal(t, ReasonSignalFlip, d.Reason)
}

func TestExit_CloseOnSignalFlip(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{CloseOnSignalFlip: true})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0) // long
	e.OnSignal(domain.StrategySignal{Symbol: "SIM", Action: domain.ActionSell, Px: 105, T: 5})

	d, fired := e.OnTick("SIM", 105, 10)
	require.True(t, fired)
	require.Equal(t, ReasonSignalFlip, d.Reason)
}

func TestExit_Trailing(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{InitArmPnLSigma: 1, RetracePct: 0.5})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)

	prices := []float64{100, 100.1, 99.9, 100.05, 99.95, 100.1, 99.9}
	warmSigma(e, "SIM", prices, 1)
	// Arm trailing with a big favorable move, then retrace halfway.
	_, fired := e.OnTick("SIM", 110, 100)
	require.False(t, fired)
	d, fired := e.OnTick("SIM", 104.9, 101)
	require.True(t, fired)
	require.Equal(t, ReasonTrailing, d.Reason)
}

func TestExit_FlatPositionDisarms(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{})
	e.Configure("SIM", config.ExitRulesConfig{MaxHoldMs: 1})
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 10, AvgPx: 100}, 0)
	e.OnPosition(domain.PositionState{Symbol: "SIM", Pos: 0, AvgPx: 0}, 1)

	_, fired := e.OnTick("SIM", 100, 1000)
	require.False(t, fired, "a flattened position must not keep firing exit rules")
}

func TestExit_RiskOverrideDrawdown(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{MaxDrawdownPct: 0.1})

	_, fired := e.OnPnL(1000, 0)
	require.False(t, fired)
	d, fired := e.OnPnL(880, 1)
	require.True(t, fired)
	require.Equal(t, FlattenAll, d.Action)
	require.Equal(t, ReasonRisk, d.Reason)
}

func TestExit_RiskOverrideSymbolExposure(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	e := New(c, config.RiskOverridesConfig{MaxSymbolExposure: map[string]float64{"SIM": 500}})

	d, fired := e.OnExposure(0, map[string]float64{"SIM": 600}, 5)
	require.True(t, fired)
	require.Equal(t, FlattenSymbol, d.Action)
	require.Equal(t, "SIM", d.Symbol)
}
