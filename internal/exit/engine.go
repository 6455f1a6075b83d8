// Package exit implements the exit engine: TP/SL(sigma), fair-value
// reversion, time stop, trailing, and portfolio risk-override rules
// evaluated against each strategy's open position. A position arms when
// it opens, is re-evaluated on every mark, and disarms when it flattens;
// the portfolio-level override tracks drawdown from a running NAV peak.
package exit

import (
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// Reason tags an emitted exit order with why it was generated.
type Reason string

const (
	ReasonTP         Reason = "EXIT_TP"
	ReasonSL         Reason = "EXIT_SL"
	ReasonTime       Reason = "EXIT_TIME"
	ReasonTrailing   Reason = "EXIT_TRAILING"
	ReasonSignalFlip Reason = "EXIT_SIGNAL_FLIP"
	ReasonRisk       Reason = "EXIT_RISK"
)

// FlattenAction is the scope of a risk-override close.
type FlattenAction string

const (
	FlattenSymbol FlattenAction = "FLATTEN_SYMBOL"
	FlattenAll    FlattenAction = "FLATTEN_ALL"
)

// Decision is an exit engine verdict: close Symbol's open position (or,
// for a risk override with Action set, flatten one symbol or the whole
// book) for Reason.
type Decision struct {
	Symbol string
	Action FlattenAction // empty for per-position rules, set for risk overrides
	Reason Reason
	T      int64
}

type armedPosition struct {
	symbol       string
	openedAt     int64
	pos          float64
	avgPx        float64
	lastPx       float64
	fairPx       float64
	hasFair      bool
	lastAction   domain.StrategyAction
	hasAction    bool
	returns      *sigmaTracker
	trailingOn   bool
	peakPnL      float64
}

// Engine evaluates exit rules for every symbol registered via Configure,
// tracking one armedPosition per symbol plus portfolio-level state for
// the risk-override rule.
type Engine struct {
	clock     ports.Clock
	overrides config.RiskOverridesConfig

	mu        sync.Mutex
	rules     map[string]config.ExitRulesConfig
	positions map[string]*armedPosition
	peakNAV   float64
	haveNAV   bool
}

// New builds an Engine. overrides may be the zero value to disable
// portfolio-level risk overrides.
func New(clock ports.Clock, overrides config.RiskOverridesConfig) *Engine {
	return &Engine{
		clock:     clock,
		overrides: overrides,
		rules:     make(map[string]config.ExitRulesConfig),
		positions: make(map[string]*armedPosition),
	}
}

// Configure registers symbol's exit rule set, e.g. one per strategy's
// trade symbol.
func (e *Engine) Configure(symbol string, cfg config.ExitRulesConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[symbol] = cfg
}

// OnPosition updates the tracked position for ps.Symbol. A transition
// from flat to non-flat arms a fresh armedPosition (resetting sigma,
// trailing, and the hold-time clock); a transition to flat disarms it.
func (e *Engine) OnPosition(ps domain.PositionState, t int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ap, ok := e.positions[ps.Symbol]
	switch {
	case ps.Pos == 0:
		delete(e.positions, ps.Symbol)
		return
	case !ok || ap.pos == 0:
		ap = &armedPosition{symbol: ps.Symbol, openedAt: t, returns: newSigmaTracker(256)}
		e.positions[ps.Symbol] = ap
	}
	ap.pos = ps.Pos
	ap.avgPx = ps.AvgPx
}

// OnSignal feeds a strategy's latest fair-value call into the
// fair-value-reversion and signal-flip rules.
func (e *Engine) OnSignal(sig domain.StrategySignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ap, ok := e.positions[sig.Symbol]
	if !ok {
		return
	}
	ap.fairPx = sig.Px
	ap.hasFair = true
	ap.lastAction = sig.Action
	ap.hasAction = true
}

// OnTick updates symbol's rolling return series and mark, then evaluates
// every per-position exit rule, returning a Decision if one fires. Only
// one Decision is returned per call (priority: time stop, then TP/SL,
// then fair-value reversion/signal-flip, then trailing), since closing
// is a single terminal action — further rules are moot once one fires.
func (e *Engine) OnTick(symbol string, px float64, t int64) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ap, ok := e.positions[symbol]
	if !ok || px <= 0 {
		return Decision{}, false
	}
	if ap.lastPx > 0 {
		ap.returns.push(logReturn(ap.lastPx, px))
	}
	ap.lastPx = px

	cfg, ok := e.rules[symbol]
	if !ok {
		return Decision{}, false
	}

	heldMs := t - ap.openedAt
	if cfg.MinHoldMs > 0 && heldMs < cfg.MinHoldMs {
		return Decision{}, false
	}

	pnl := (px - ap.avgPx) * signOf(ap.pos)

	if cfg.MaxHoldMs > 0 && heldMs >= cfg.MaxHoldMs {
		return e.decide(symbol, ReasonTime, t), true
	}

	if reason, fired := checkTPSL(cfg, pnl, ap.returns.stddev()); fired {
		return e.decide(symbol, reason, t), true
	}

	if ap.hasFair && cfg.EpsilonBps > 0 {
		edgeBps := absf((ap.fairPx - px) / px * 10000)
		if edgeBps <= cfg.EpsilonBps {
			return e.decide(symbol, ReasonSignalFlip, t), true
		}
	}
	if cfg.CloseOnSignalFlip && ap.hasAction {
		posIsLong := ap.pos > 0
		flip := (posIsLong && ap.lastAction == domain.ActionSell) || (!posIsLong && ap.lastAction == domain.ActionBuy)
		if flip {
			return e.decide(symbol, ReasonSignalFlip, t), true
		}
	}

	if cfg.InitArmPnLSigma > 0 && cfg.RetracePct > 0 {
		sigma := ap.returns.stddev()
		if sigma > 0 {
			if !ap.trailingOn && pnl >= cfg.InitArmPnLSigma*sigma {
				ap.trailingOn = true
				ap.peakPnL = pnl
			}
			if ap.trailingOn {
				if pnl > ap.peakPnL {
					ap.peakPnL = pnl
				}
				if ap.peakPnL > 0 && pnl <= ap.peakPnL*(1-cfg.RetracePct) {
					return e.decide(symbol, ReasonTrailing, t), true
				}
			}
		}
	}

	return Decision{}, false
}

func (e *Engine) decide(symbol string, reason Reason, t int64) Decision {
	return Decision{Symbol: symbol, Reason: reason, T: t}
}

// checkTPSL evaluates the TP/SL(sigma) rule. asymmetric restricts each
// threshold to the side of pnl it protects: a position in profit is only
// ever checked against tpSigma, one in loss only against slSigma — the
// non-asymmetric mode checks both every time.
func checkTPSL(cfg config.ExitRulesConfig, pnl, sigma float64) (Reason, bool) {
	if sigma <= 0 {
		return "", false
	}
	ratio := pnl / sigma
	if cfg.Asymmetric {
		if pnl >= 0 {
			if cfg.TPSigma > 0 && ratio >= cfg.TPSigma {
				return ReasonTP, true
			}
			return "", false
		}
		if cfg.SLSigma > 0 && ratio <= -cfg.SLSigma {
			return ReasonSL, true
		}
		return "", false
	}
	if cfg.TPSigma > 0 && ratio >= cfg.TPSigma {
		return ReasonTP, true
	}
	if cfg.SLSigma > 0 && ratio <= -cfg.SLSigma {
		return ReasonSL, true
	}
	return "", false
}

func signOf(pos float64) float64 {
	if pos < 0 {
		return -1
	}
	return 1
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
