// Package risk implements the pre-trade risk engine:
// notional, position, price-band, throttle, and collateral gates, plus
// optimistic exposure tracking with a Revert hook so a downstream reject
// (execution, a later stage) can undo what was reserved on allow.
//
// The throttle gate is a golang.org/x/time/rate.Limiter sized per symbol
// from {windowMs, maxCount}: a bucket of maxCount tokens that refills one
// token every windowMs/maxCount. Every non-exit check attempt consumes one
// token (regardless of its own other reasons), so a burst of maxCount
// attempts exhausts the bucket and later attempts are throttled until a
// token has refilled.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// AccountExposureGuard optionally provides per-asset available balances
// and reservation hooks. Implemented by ledger.VenueGuard.
type AccountExposureGuard interface {
	Available(asset string) float64
	Reserve(asset string, amount float64) error
	Release(asset string, amount float64)
}

// MarketExposureGuard optionally implements margin/leverage budgets for
// SPOT-margin or PERP accounts. A nil error means approved.
type MarketExposureGuard interface {
	Check(order domain.OrderNew) error
}

// CheckResult is the outcome of one pre-trade risk check: allowed iff no
// reasons were accumulated.
type CheckResult struct {
	Allowed bool
	Reasons []string
}

type reservation struct {
	symbol    string
	signedQty float64
	asset     string
	amount    float64
}

// Engine evaluates orders against a fixed limit set plus optional
// account/market exposure guards, tracking per-symbol position exposure
// optimistically so the next check sees the effect of the last allow.
type Engine struct {
	limits       config.RiskConfig
	clock        ports.Clock
	accountGuard AccountExposureGuard
	marketGuard  MarketExposureGuard

	mu           sync.Mutex
	killed       bool
	positions    map[string]float64
	reservations map[string]reservation
	throttles    map[string]*rate.Limiter
}

// New builds an Engine over limits, using clock for the throttle gate's
// token-bucket timing.
// accountGuard/marketGuard may be nil.
func New(limits config.RiskConfig, clock ports.Clock, accountGuard AccountExposureGuard, marketGuard MarketExposureGuard) *Engine {
	return &Engine{
		limits:       limits,
		clock:        clock,
		accountGuard: accountGuard,
		marketGuard:  marketGuard,
		positions:    make(map[string]float64),
		reservations: make(map[string]reservation),
		throttles:    make(map[string]*rate.Limiter),
	}
}

// SetKillSwitch engages or clears the control-plane kill switch. While
// engaged, every non-exit order is refused with a "kill-switch" reason;
// exits still pass so an operator can flatten the book. The pipeline
// itself keeps running.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.killed = on
	e.mu.Unlock()
}

// Check evaluates order against every configured gate. On
// allow, it optimistically updates the tracked position and consumes any
// configured reservation; call Revert(order) to undo both if a downstream
// step later rejects the same order.
func (e *Engine) Check(order domain.OrderNew) CheckResult {
	refPx := order.Px
	if !order.HasPx {
		if v, ok := order.MetaFloat("execRefPx"); ok {
			refPx = v
		}
	}
	grossNotional := math.Abs(order.Qty * refPx)
	feeRate := 0.0
	if v, ok := order.MetaFloat("expectedFeeBps"); ok && v > 0 {
		feeRate = v / 10000
	}
	notionalWithFees := grossNotional * (1 + feeRate)

	isExit := order.IsExit()
	signedQty := order.Qty * order.Side.Sign()

	e.mu.Lock()
	currentPos := e.positions[order.Symbol]
	killed := e.killed
	e.mu.Unlock()
	newPos := currentPos + signedQty

	var reasons []string

	if killed && !isExit {
		reasons = append(reasons, "kill-switch")
	}

	if !isExit && e.limits.Notional > 0 && notionalWithFees > e.limits.Notional {
		reasons = append(reasons, fmt.Sprintf("notional>%g", e.limits.Notional))
	}

	if e.limits.MaxPosition > 0 {
		switch {
		case isExit:
			// Exits may only reduce exposure; growing it is still a
			// position-limit violation.
			if math.Abs(newPos) > math.Abs(currentPos) {
				reasons = append(reasons, fmt.Sprintf("position>%g", e.limits.MaxPosition))
			}
		case math.Abs(newPos) > e.limits.MaxPosition:
			reasons = append(reasons, fmt.Sprintf("position>%g", e.limits.MaxPosition))
		}
	}

	if !isExit {
		if band, ok := e.limits.PriceBands[order.Symbol]; ok && refPx > 0 {
			if refPx < band.Min || refPx > band.Max {
				reasons = append(reasons, "price-band")
			}
		}
	}

	if !isExit && !e.allowThrottle(order.Symbol) {
		reasons = append(reasons, "throttle")
	}

	assets := e.limits.SymbolAssets[order.Symbol]
	if !isExit && e.accountGuard != nil {
		if order.Side == domain.SideBuy {
			if e.accountGuard.Available(assets.Quote) < notionalWithFees {
				reasons = append(reasons, "insufficient-quote")
			}
		} else {
			if e.accountGuard.Available(assets.Base) < order.Qty {
				reasons = append(reasons, "insufficient-base")
			}
		}
	}

	if !isExit && e.marketGuard != nil {
		if err := e.marketGuard.Check(order); err != nil {
			reasons = append(reasons, "insufficient-balance")
		}
	}

	allowed := len(reasons) == 0
	if allowed {
		e.mu.Lock()
		e.positions[order.Symbol] = newPos
		e.mu.Unlock()
		e.reserve(order, assets, notionalWithFees, signedQty)
	}

	return CheckResult{Allowed: allowed, Reasons: reasons}
}

func (e *Engine) reserve(order domain.OrderNew, assets config.SymbolAssets, notionalWithFees, signedQty float64) {
	rec := reservation{symbol: order.Symbol, signedQty: signedQty}
	if e.accountGuard != nil {
		if order.Side == domain.SideBuy {
			rec.asset, rec.amount = assets.Quote, notionalWithFees
		} else {
			rec.asset, rec.amount = assets.Base, order.Qty
		}
		if rec.asset != "" {
			_ = e.accountGuard.Reserve(rec.asset, rec.amount)
		}
	}
	e.mu.Lock()
	e.reservations[order.ID] = rec
	e.mu.Unlock()
}

// Revert reverses the exposure delta Check applied for order, restoring
// position and any guard reservation to their pre-check value. A no-op
// if order was never allowed or was already reverted.
func (e *Engine) Revert(order domain.OrderNew) {
	e.mu.Lock()
	rec, ok := e.reservations[order.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.reservations, order.ID)
	e.positions[rec.symbol] -= rec.signedQty
	e.mu.Unlock()

	if e.accountGuard != nil && rec.asset != "" {
		e.accountGuard.Release(rec.asset, rec.amount)
	}
}

// Position returns the engine's currently tracked exposure for symbol.
func (e *Engine) Position(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol]
}

func (e *Engine) allowThrottle(symbol string) bool {
	windowMs := e.limits.Throttle.WindowMs
	maxCount := e.limits.Throttle.MaxCount
	if windowMs <= 0 || maxCount <= 0 {
		return true
	}

	e.mu.Lock()
	lim, ok := e.throttles[symbol]
	if !ok {
		interval := time.Duration(windowMs) * time.Millisecond / time.Duration(maxCount)
		lim = rate.NewLimiter(rate.Every(interval), maxCount)
		e.throttles[symbol] = lim
	}
	e.mu.Unlock()

	return lim.AllowN(e.clock.Now(), 1)
}
