package strategy

import (
	"fmt"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// validatePairParams requires a window, a positive entryZ, and the two feed
// ids (base, quote) the ratio is built from; exitZ is optional (0 when
// absent) but must be below entryZ.
func validatePairParams(params map[string]any) error {
	if err := requirePositiveInt(params, "window"); err != nil {
		return err
	}
	if err := requirePositiveFloat(params, "entryZ"); err != nil {
		return err
	}
	if stringParam(params, "baseFeed", "") == "" {
		return fmt.Errorf("baseFeed is required")
	}
	if stringParam(params, "quoteFeed", "") == "" {
		return fmt.Errorf("quoteFeed is required")
	}
	entryZ := floatParam(params, "entryZ", 0)
	exitZ := floatParam(params, "exitZ", 0)
	if exitZ >= entryZ {
		return fmt.Errorf("exitZ (%g) must be less than entryZ (%g)", exitZ, entryZ)
	}
	return nil
}

// NewPair builds the mean-reversion pair strategy: a rolling
// ratio base/quote of length window, z-scored against its own rolling
// mean/std (floor'd by epsilon), emitting SELL when z exceeds entryZ and
// BUY when z falls below -entryZ, at most once per minIntervalMs, with
// lastAction reset once |z| drops below exitZ.
func NewPair(ctx Context, params map[string]any) (<-chan domain.StrategySignal, error) {
	window := intParam(params, "window", 20)
	entryZ := floatParam(params, "entryZ", 2.0)
	exitZ := floatParam(params, "exitZ", 0.5)
	minIntervalMs := int64(intParam(params, "minIntervalMs", 1000))
	epsilon := floatParam(params, "epsilon", 1e-8)
	baseFeedID := stringParam(params, "baseFeed", "")
	quoteFeedID := stringParam(params, "quoteFeed", "")

	baseFeed, err := ctx.FeedByID(baseFeedID)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewPair: %w", err)
	}
	quoteFeed, err := ctx.FeedByID(quoteFeedID)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewPair: %w", err)
	}

	ratios := ratioStream(baseFeed, quoteFeed)
	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		buf := make([]float64, 0, window)
		var lastAction domain.StrategyAction
		var lastEmitTs int64
		hasAction := false
		hasEmit := false

		for r := range ratios {
			buf = append(buf, r.ratio)
			if len(buf) > window {
				buf = buf[len(buf)-window:]
			}
			if len(buf) < window {
				continue
			}
			mean := meanf(buf)
			sd := stddev(buf)
			if sd < epsilon {
				sd = epsilon
			}
			z := (r.ratio - mean) / sd

			if hasAction && absFloat(z) < exitZ {
				hasAction = false
			}

			var action domain.StrategyAction
			switch {
			case z > entryZ:
				action = domain.ActionSell
			case z < -entryZ:
				action = domain.ActionBuy
			default:
				continue
			}
			if hasAction && action == lastAction {
				continue
			}
			if hasEmit && r.t-lastEmitTs < minIntervalMs {
				continue
			}
			out <- domain.StrategySignal{Symbol: ctx.TradeSymbol, Action: action, Px: r.ratio, T: r.t}
			lastAction = action
			hasAction = true
			lastEmitTs = r.t
			hasEmit = true
		}
	}()
	return out, nil
}

type ratioPoint struct {
	t     int64
	ratio float64
}

// ratioStream pairs the latest base/quote prices by arrival, emitting a
// new ratio point each time either side ticks, using the other side's
// most recent value (a one-slot replay of "latest price per symbol" for
// each leg).
func ratioStream(base, quote <-chan domain.MarketTick) <-chan ratioPoint {
	out := make(chan ratioPoint)
	go func() {
		defer close(out)
		var lastBase, lastQuote float64
		var hasBase, hasQuote bool

		liveBase, liveQuote := base, quote
		for liveBase != nil || liveQuote != nil {
			var t domain.MarketTick
			var ok, isBase bool
			select {
			case t, ok = <-liveBase:
				isBase = true
				if !ok {
					liveBase = nil
					continue
				}
			case t, ok = <-liveQuote:
				isBase = false
				if !ok {
					liveQuote = nil
					continue
				}
			}
			px, ok := t.PriceFrom(domain.SourceLast)
			if !ok {
				continue
			}
			if isBase {
				lastBase, hasBase = px, true
			} else {
				lastQuote, hasQuote = px, true
			}
			if hasBase && hasQuote && lastQuote != 0 {
				out <- ratioPoint{t: t.T, ratio: lastBase / lastQuote}
			}
		}
	}()
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
