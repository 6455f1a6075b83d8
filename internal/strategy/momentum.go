package strategy

import (
	"fmt"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// validateMomentumParams enforces fastWindow < slowWindow for the
// single-feed case; multi-feed consensus params are optional and default
// sensibly when a single feed is configured.
func validateMomentumParams(params map[string]any) error {
	if err := requirePositiveInt(params, "fastWindow"); err != nil {
		return err
	}
	if err := requirePositiveInt(params, "slowWindow"); err != nil {
		return err
	}
	fast := intParam(params, "fastWindow", 0)
	slow := intParam(params, "slowWindow", 0)
	if fast >= slow {
		return fmt.Errorf("fastWindow (%d) must be less than slowWindow (%d)", fast, slow)
	}
	return nil
}

// NewMomentum builds the Momentum strategy. With one feed it's a fast/slow
// SMA crossover on last price. With multiple feeds, per-feed crossover
// signals are aggregated: minConsensus signals of the same action must
// fall within maxSkewMs of each other and maxSignalAgeMs of the latest
// arrival, suppressing repeats of the same action within
// minActionIntervalMs. Signals are counted, not distinct feeds, so two
// signals of one action from the same feed count twice.
func NewMomentum(ctx Context, params map[string]any) (<-chan domain.StrategySignal, error) {
	fastWindow := intParam(params, "fastWindow", 5)
	slowWindow := intParam(params, "slowWindow", 20)

	if len(ctx.FeedSources) <= 1 {
		feed := ctx.Marks
		if len(ctx.FeedSources) == 1 {
			feed = ctx.FeedSources[0].Stream
		}
		return singleFeedMomentum(ctx.TradeSymbol, feed, fastWindow, slowWindow), nil
	}

	minConsensus := intParam(params, "minConsensus", (len(ctx.FeedSources)/2)+1)
	maxSkewMs := int64(intParam(params, "maxSkewMs", 1000))
	maxSignalAgeMs := int64(intParam(params, "maxSignalAgeMs", 5000))
	minActionIntervalMs := int64(intParam(params, "minActionIntervalMs", 1000))

	perFeed := make([]<-chan domain.StrategySignal, len(ctx.FeedSources))
	for i, fs := range ctx.FeedSources {
		perFeed[i] = singleFeedMomentum(ctx.TradeSymbol, fs.Stream, fastWindow, slowWindow)
	}
	return aggregateConsensus(ctx.TradeSymbol, perFeed, minConsensus, maxSkewMs, maxSignalAgeMs, minActionIntervalMs), nil
}

func singleFeedMomentum(symbol string, feed <-chan domain.MarketTick, fastWindow, slowWindow int) <-chan domain.StrategySignal {
	symbolTicks := FilterSymbol(feed, symbol)

	// Tee the price stream into independent fast and slow SMA pipelines
	// plus a raw (un-averaged) copy so a detected crossover can be priced
	// at a real observed tick instead of at an SMA value; see zipFastSlow
	// for why that tick is the one right after confirmation, not the one
	// that confirmed it.
	priceA := make(chan pricePoint, 64)
	priceB := make(chan pricePoint, 64)
	priceC := make(chan pricePoint, 64)
	go func() {
		defer close(priceA)
		defer close(priceB)
		defer close(priceC)
		for t := range symbolTicks {
			px, ok := t.PriceFrom(domain.SourceLast)
			if !ok {
				continue
			}
			p := pricePoint{T: t.T, Px: px}
			priceA <- p
			priceB <- p
			priceC <- p
		}
	}()

	fast := SMA(priceA, fastWindow)
	slow := SMA(priceB, slowWindow)
	pairs := zipFastSlow(fast, slow, priceC)
	crosses := DetectCrossovers(pairs)

	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		for c := range crosses {
			action := domain.ActionBuy
			if c.Direction == CrossBelow {
				action = domain.ActionSell
			}
			if c.Direction == CrossNone {
				continue
			}
			out <- domain.StrategySignal{Symbol: symbol, Action: action, Px: c.Px, T: c.T}
		}
	}()
	return out
}

// zipFastSlow pairs fast/slow SMA points by timestamp. The Fast/Slow values
// attached to a point reflect the SMA state as of that point's own tick, but
// the T/Px attached to it are deliberately taken from the NEXT tick: a
// crossover is confirmed using the SMA history up to and including a tick,
// but priced at the next available quote rather than at the (already
// historical, look-ahead-biased) tick that confirmed it. The final point of
// the stream has no "next" tick to borrow from, so it falls back to its own.
//
// All three input streams are derived from the same tee'd source and fall
// behind by their own window size (raw not at all), so pairing is done by
// buffering the faster streams until the slower stream's timestamp catches
// up.
func zipFastSlow(fast, slow, raw <-chan pricePoint) <-chan FastSlowPoint {
	out := make(chan FastSlowPoint)
	go func() {
		defer close(out)
		var fastBuf []pricePoint
		var rawBuf []pricePoint
		var pending *FastSlowPoint

		flush := func() {
			if pending != nil {
				out <- *pending
				pending = nil
			}
		}

		for {
			s, ok := <-slow
			if !ok {
				flush()
				return
			}
			for {
				f, ok := <-fast
				if !ok {
					flush()
					return
				}
				fastBuf = append(fastBuf, f)
				if f.T >= s.T {
					break
				}
			}
			for {
				r, ok := <-raw
				if !ok {
					flush()
					return
				}
				rawBuf = append(rawBuf, r)
				if r.T >= s.T {
					break
				}
			}
			// Use the latest fast/raw value at or after the slow point's time.
			latestFast := fastBuf[len(fastBuf)-1]
			latestRaw := rawBuf[len(rawBuf)-1]
			fastBuf = nil
			rawBuf = nil

			if pending != nil {
				pending.T = latestRaw.T
				pending.Px = latestRaw.Px
				out <- *pending
			}
			// T/Px default to this point's own tick, overwritten by the next
			// iteration's tick if one arrives before the stream ends.
			pending = &FastSlowPoint{T: s.T, Fast: latestFast.Px, Slow: s.Px, Px: latestRaw.Px}
		}
	}()
	return out
}

// aggregateConsensus merges per-feed momentum signals, emitting a
// consensus signal when at least minConsensus signals agree on the same
// action within maxSkewMs of the newest contribution and maxSignalAgeMs of
// the latest arrival. It counts signals, not distinct feeds.
func aggregateConsensus(symbol string, feeds []<-chan domain.StrategySignal, minConsensus int, maxSkewMs, maxSignalAgeMs, minActionIntervalMs int64) <-chan domain.StrategySignal {
	type contribution struct {
		signal domain.StrategySignal
	}
	merged := make(chan domain.StrategySignal, 256)
	for _, f := range feeds {
		go func(f <-chan domain.StrategySignal) {
			for s := range f {
				merged <- s
			}
		}(f)
	}

	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		var recent []domain.StrategySignal
		var lastAction domain.StrategyAction
		var lastEmitTs int64
		hasEmitted := false

		for s := range merged {
			recent = append(recent, s)
			now := s.T
			var kept []domain.StrategySignal
			for _, c := range recent {
				if now-c.T <= maxSignalAgeMs {
					kept = append(kept, c)
				}
			}
			recent = kept

			agreeing := map[domain.StrategyAction][]domain.StrategySignal{}
			for _, c := range recent {
				agreeing[c.Action] = append(agreeing[c.Action], c)
			}
			for action, group := range agreeing {
				if len(group) < minConsensus {
					continue
				}
				newest := group[0].T
				oldest := group[0].T
				sumPx := 0.0
				for _, g := range group {
					if g.T > newest {
						newest = g.T
					}
					if g.T < oldest {
						oldest = g.T
					}
					sumPx += g.Px
				}
				if newest-oldest > maxSkewMs {
					continue
				}
				if hasEmitted && action == lastAction && newest-lastEmitTs < minActionIntervalMs {
					continue
				}
				out <- domain.StrategySignal{Symbol: symbol, Action: action, Px: sumPx / float64(len(group)), T: newest}
				lastAction = action
				lastEmitTs = newest
				hasEmitted = true
			}
		}
	}()
	return out
}
