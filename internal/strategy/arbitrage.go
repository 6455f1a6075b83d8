package strategy

import (
	"fmt"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// validateArbitrageParams requires two distinct venues and a positive
// spread threshold; same venue for both legs is an error.
func validateArbitrageParams(params map[string]any) error {
	primary := stringParam(params, "primaryFeed", "")
	secondary := stringParam(params, "secondaryFeed", "")
	if primary == "" || secondary == "" {
		return fmt.Errorf("primaryFeed and secondaryFeed are required")
	}
	if primary == secondary {
		return fmt.Errorf("arbitrage requires two distinct venues, got %q twice", primary)
	}
	if err := requirePositiveFloat(params, "spreadBps"); err != nil {
		return err
	}
	return nil
}

// NewArbitrage builds the cross-venue arbitrage strategy: on
// each synchronized pair of latest prices from two distinct venues, if
// |Δt| <= maxAgeMs and the spread in bps meets the threshold, emit BUY when
// spread > 0 (secondary above primary) or SELL when spread < 0, gated by
// minIntervalMs, with the emitted timestamp equal to the max of the two
// tick times.
func NewArbitrage(ctx Context, params map[string]any) (<-chan domain.StrategySignal, error) {
	primaryID := stringParam(params, "primaryFeed", "")
	secondaryID := stringParam(params, "secondaryFeed", "")
	spreadBpsThreshold := floatParam(params, "spreadBps", 5)
	maxAgeMs := int64(intParam(params, "maxAgeMs", 250))
	minIntervalMs := int64(intParam(params, "minIntervalMs", 1000))

	primary, err := ctx.FeedByID(primaryID)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewArbitrage: %w", err)
	}
	secondary, err := ctx.FeedByID(secondaryID)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewArbitrage: %w", err)
	}

	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		var lastPrimary, lastSecondary pricePoint
		var hasPrimary, hasSecondary bool
		var lastEmitTs int64
		hasEmit := false

		livePrimary, liveSecondary := primary, secondary
		for livePrimary != nil || liveSecondary != nil {
			var t domain.MarketTick
			var ok, isPrimary bool
			select {
			case t, ok = <-livePrimary:
				isPrimary = true
				if !ok {
					livePrimary = nil
					continue
				}
			case t, ok = <-liveSecondary:
				isPrimary = false
				if !ok {
					liveSecondary = nil
					continue
				}
			}
			px, ok := t.PriceFrom(domain.SourceLast)
			if !ok {
				continue
			}
			if isPrimary {
				lastPrimary, hasPrimary = pricePoint{T: t.T, Px: px}, true
			} else {
				lastSecondary, hasSecondary = pricePoint{T: t.T, Px: px}, true
			}
			if !hasPrimary || !hasSecondary || lastPrimary.Px == 0 {
				continue
			}

			dt := lastSecondary.T - lastPrimary.T
			if dt < 0 {
				dt = -dt
			}
			if dt > maxAgeMs {
				continue
			}

			spreadBps := (lastSecondary.Px - lastPrimary.Px) / lastPrimary.Px * 10000
			if absFloat(spreadBps) < spreadBpsThreshold {
				continue
			}

			emitT := lastPrimary.T
			if lastSecondary.T > emitT {
				emitT = lastSecondary.T
			}
			if hasEmit && emitT-lastEmitTs < minIntervalMs {
				continue
			}

			action := domain.ActionBuy
			if spreadBps < 0 {
				action = domain.ActionSell
			}
			out <- domain.StrategySignal{Symbol: ctx.TradeSymbol, Action: action, Px: lastPrimary.Px, T: emitT}
			lastEmitTs = emitT
			hasEmit = true
		}
	}()
	return out, nil
}
