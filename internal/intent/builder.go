// Package intent shapes StrategySignals into executable OrderNews
// against current market microstructure: reference-price selection, edge
// math, maker/taker gating, sizing, and per-(symbol,side) cooldown plus
// dedupe, all held in per-Builder state so builders never share cooldown
// clocks.
package intent

import (
	"fmt"
	"math"
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Builder converts signals into orders, holding the latest tick per symbol
// and the cooldown/dedupe state the policy requires.
type Builder struct {
	policy config.IntentPolicy

	mu          sync.Mutex
	lastTick    map[string]domain.MarketTick
	cooldownAt  map[cooldownKey]int64
	dedupeAt    map[dedupeKey]int64
}

type cooldownKey struct {
	symbol string
	side   domain.Side
}

type dedupeKey struct {
	symbol string
	side   domain.Side
	typ    domain.OrderType
	px     float64
	qty    float64
}

// New builds a Builder governed by policy.
func New(policy config.IntentPolicy) *Builder {
	return &Builder{
		policy:     policy,
		lastTick:   make(map[string]domain.MarketTick),
		cooldownAt: make(map[cooldownKey]int64),
		dedupeAt:   make(map[dedupeKey]int64),
	}
}

// OnTick records the latest tick for its symbol, the cache Build's
// reference-price selection reads from.
func (b *Builder) OnTick(t domain.MarketTick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTick[t.Symbol] = t
}

// Build shapes signal into an OrderNew, or returns ok=false if no tick is
// cached yet, no candidate clears its required edge, or cooldown/dedupe
// suppressed emission.
func (b *Builder) Build(signal domain.StrategySignal, account string) (domain.OrderNew, bool, error) {
	b.mu.Lock()
	tick, ok := b.lastTick[signal.Symbol]
	b.mu.Unlock()
	if !ok {
		return domain.OrderNew{}, false, nil
	}

	side := domain.SideBuy
	if signal.Action == domain.ActionSell {
		side = domain.SideSell
	}
	sigma := side.Sign()
	fairPx := signal.Px

	var candidate *candidateOrder
	switch b.policy.Mode {
	case "limit":
		candidate = b.makerCandidate(tick, side, sigma, fairPx)
	case "market", "takerOnDrift":
		candidate = b.takerCandidate(tick, side, sigma, fairPx)
	case "makerPreferred":
		taker := b.takerCandidate(tick, side, sigma, fairPx)
		maker := b.makerCandidate(tick, side, sigma, fairPx)
		candidate = pickBestNetEdge(taker, maker)
	default:
		return domain.OrderNew{}, false, fmt.Errorf("intent.Builder.Build: unknown mode %q", b.policy.Mode)
	}
	if candidate == nil {
		return domain.OrderNew{}, false, nil
	}

	qty := b.sizeQty(candidate.execPx)
	if qty <= 0 {
		return domain.OrderNew{}, false, nil
	}

	orderType := domain.OrderTypeMarket
	px := 0.0
	hasPx := false
	if candidate.liquidity == domain.LiquidityMaker {
		orderType = domain.OrderTypeLimit
		px = candidate.execPx
		hasPx = true
	}

	tif := domain.TimeInForce(b.policy.TimeInForce)

	now := signal.T
	ckey := cooldownKey{symbol: signal.Symbol, side: side}
	b.mu.Lock()
	if last, seen := b.cooldownAt[ckey]; seen && now-last < b.policy.CooldownMs {
		b.mu.Unlock()
		return domain.OrderNew{}, false, nil
	}
	dkey := dedupeKey{symbol: signal.Symbol, side: side, typ: orderType, px: px, qty: qty}
	if last, seen := b.dedupeAt[dkey]; seen && now-last < b.policy.DedupeWindowMs {
		b.mu.Unlock()
		return domain.OrderNew{}, false, nil
	}
	b.cooldownAt[ckey] = now
	b.dedupeAt[dkey] = now
	b.mu.Unlock()

	meta := map[string]any{
		"mode":            b.policy.Mode,
		"reason":          candidate.reason,
		"refType":         string(candidate.refType),
		"fairPx":          fairPx,
		"execPx":          candidate.execPx,
		"edgeBps":         candidate.edgeBps,
		"netEdgeBps":      candidate.netEdgeBps,
		"liquidity":       string(candidate.liquidity),
		"gateBps":         candidate.gateBps,
		"expectedFeeBps":  candidate.feeBps,
	}
	if signal.StrategyID != "" {
		meta["strategyId"] = signal.StrategyID
	}

	order := domain.OrderNew{
		ID:      domain.NewID(),
		T:       now,
		Symbol:  signal.Symbol,
		Side:    side,
		Qty:     qty,
		Type:    orderType,
		Px:      px,
		HasPx:   hasPx,
		TIF:     tif,
		Account: account,
		Meta:    meta,
	}
	return order, true, nil
}

type candidateOrder struct {
	liquidity  domain.Liquidity
	refType    domain.PriceSource
	execPx     float64
	edgeBps    float64
	netEdgeBps float64
	gateBps    float64
	feeBps     float64
	reason     string
}

// takerCandidate prefers ask (BUY) / bid (SELL), falling back to last, then
// mid, applying slip away from the reference in the aggressive direction.
func (b *Builder) takerCandidate(tick domain.MarketTick, side domain.Side, sigma, fairPx float64) *candidateOrder {
	ref, refType, ok := takerReference(tick, side)
	if !ok {
		return nil
	}
	execPx := ref * (1 + sigma*b.policy.TakerSlipBps/10000)
	if execPx <= 0 {
		return nil
	}
	edgeBps := sigma * (fairPx - execPx) / execPx * 10000
	required := b.policy.MinEdgeBps + b.policy.TakerFeeBps + b.policy.TakerSlipBps
	if edgeBps < required {
		return nil
	}
	return &candidateOrder{
		liquidity:  domain.LiquidityTaker,
		refType:    refType,
		execPx:     execPx,
		edgeBps:    edgeBps,
		netEdgeBps: edgeBps - required,
		gateBps:    required,
		feeBps:     b.policy.TakerFeeBps,
		reason:     "taker",
	}
}

// makerCandidate anchors to the same-side top of book (falling back to mid,
// then last), offsets toward the passive side by limitOffsetBps, and rounds
// toward the passive side to tickSize. PostOnly candidates that would cross
// the opposite side are rejected.
func (b *Builder) makerCandidate(tick domain.MarketTick, side domain.Side, sigma, fairPx float64) *candidateOrder {
	anchor, refType, ok := makerAnchor(tick, side)
	if !ok {
		return nil
	}
	// Offset toward the passive side: a BUY maker quotes below the anchor,
	// a SELL maker quotes above it.
	offset := -sigma * b.policy.LimitOffsetBps / 10000 * anchor
	execPx := anchor + offset
	execPx = roundToPassiveSide(execPx, b.policy.TickSize, side)
	if execPx <= 0 {
		return nil
	}

	if b.policy.PostOnly && crossesBook(execPx, side, tick) {
		return nil
	}

	edgeBps := sigma * (fairPx - execPx) / execPx * 10000
	required := b.policy.MinEdgeBps + b.policy.MakerFeeBps + b.policy.AdverseSelectionBps
	if edgeBps < required {
		return nil
	}
	return &candidateOrder{
		liquidity:  domain.LiquidityMaker,
		refType:    refType,
		execPx:     execPx,
		edgeBps:    edgeBps,
		netEdgeBps: edgeBps - required,
		gateBps:    required,
		feeBps:     b.policy.MakerFeeBps,
		reason:     "maker",
	}
}

func takerReference(tick domain.MarketTick, side domain.Side) (float64, domain.PriceSource, bool) {
	if side == domain.SideBuy && tick.HasAsk {
		return tick.Ask, domain.SourceAsk, true
	}
	if side == domain.SideSell && tick.HasBid {
		return tick.Bid, domain.SourceBid, true
	}
	if tick.HasLast {
		return tick.Last, domain.SourceLast, true
	}
	if mid := tick.Mid(); mid > 0 {
		return mid, domain.SourceMid, true
	}
	return 0, "", false
}

func makerAnchor(tick domain.MarketTick, side domain.Side) (float64, domain.PriceSource, bool) {
	if side == domain.SideBuy && tick.HasBid {
		return tick.Bid, domain.SourceBid, true
	}
	if side == domain.SideSell && tick.HasAsk {
		return tick.Ask, domain.SourceAsk, true
	}
	if mid := tick.Mid(); mid > 0 {
		return mid, domain.SourceMid, true
	}
	if tick.HasLast {
		return tick.Last, domain.SourceLast, true
	}
	return 0, "", false
}

// crossesBook reports whether a maker price at execPx on side would cross
// the opposite side of the book: a BUY limit at or above the ask, or a
// SELL limit at or below the bid.
func crossesBook(execPx float64, side domain.Side, tick domain.MarketTick) bool {
	if side == domain.SideBuy && tick.HasAsk {
		return execPx >= tick.Ask
	}
	if side == domain.SideSell && tick.HasBid {
		return execPx <= tick.Bid
	}
	return false
}

// roundToPassiveSide rounds px to the nearest tickSize, rounding down for a
// BUY (never bidding above what was computed) and up for a SELL (never
// offering below it), so the passive order never becomes more aggressive
// than intended.
func roundToPassiveSide(px, tickSize float64, side domain.Side) float64 {
	if tickSize <= 0 {
		return px
	}
	ticks := px / tickSize
	if side == domain.SideBuy {
		return math.Floor(ticks) * tickSize
	}
	return math.Ceil(ticks) * tickSize
}

// pickBestNetEdge returns whichever non-nil candidate has the larger net
// edge, tagging the winner's reason as "makerPreferred:<taker|maker>".
func pickBestNetEdge(taker, maker *candidateOrder) *candidateOrder {
	switch {
	case taker == nil && maker == nil:
		return nil
	case taker == nil:
		maker.reason = "makerPreferred:maker"
		return maker
	case maker == nil:
		taker.reason = "makerPreferred:taker"
		return taker
	case maker.netEdgeBps > taker.netEdgeBps:
		maker.reason = "makerPreferred:maker"
		return maker
	default:
		taker.reason = "makerPreferred:taker"
		return taker
	}
}

// sizeQty computes qty from notionalUsd/execPx (or defaultQty), rounded
// down to lotSize.
func (b *Builder) sizeQty(execPx float64) float64 {
	qty := b.policy.DefaultQty
	if b.policy.NotionalUsd > 0 && execPx > 0 {
		qty = b.policy.NotionalUsd / execPx
	}
	if b.policy.LotSize > 0 {
		qty = math.Floor(qty/b.policy.LotSize) * b.policy.LotSize
	}
	return qty
}
