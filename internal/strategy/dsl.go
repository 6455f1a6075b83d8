// Package strategy implements the DSL primitives and the registered
// strategies (Momentum, Pair, Arbitrage). Every primitive is a
// composable function from one channel to another, each holding its
// rolling state internally rather than in package-level globals, so
// strategies with independent state never interfere even when built
// from the same combinators.
package strategy

import (
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// FilterSymbol passes through only ticks for symbol.
func FilterSymbol(in <-chan domain.MarketTick, symbol string) <-chan domain.MarketTick {
	out := make(chan domain.MarketTick)
	go func() {
		defer close(out)
		for t := range in {
			if t.Symbol == symbol {
				out <- t
			}
		}
	}()
	return out
}

// PriceFromTick extracts one price field per tick, dropping ticks where the
// requested source has no fallback available.
func PriceFromTick(in <-chan domain.MarketTick, source domain.PriceSource) <-chan pricePoint {
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		for t := range in {
			px, ok := t.PriceFrom(source)
			if !ok {
				continue
			}
			out <- pricePoint{T: t.T, Px: px}
		}
	}()
	return out
}

// pricePoint is a single (t, px) observation threaded through the rest of
// the DSL after PriceFromTick.
type pricePoint struct {
	T  int64
	Px float64
}

// SlidingWindow buffers the last N points and emits the full window once
// it has N elements, sliding by step each time.
func SlidingWindow(in <-chan pricePoint, n, step int) <-chan []pricePoint {
	out := make(chan []pricePoint)
	if step <= 0 {
		step = 1
	}
	go func() {
		defer close(out)
		buf := make([]pricePoint, 0, n)
		sinceEmit := 0
		for p := range in {
			buf = append(buf, p)
			if len(buf) > n {
				buf = buf[len(buf)-n:]
			}
			if len(buf) < n {
				continue
			}
			sinceEmit++
			if sinceEmit >= step {
				window := make([]pricePoint, n)
				copy(window, buf)
				out <- window
				sinceEmit = 0
			}
		}
	}()
	return out
}

// SMA computes a simple moving average of N points, emitting one value per
// point once N points have arrived.
func SMA(in <-chan pricePoint, n int) <-chan pricePoint {
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		buf := make([]float64, 0, n)
		for p := range in {
			buf = append(buf, p.Px)
			if len(buf) > n {
				buf = buf[len(buf)-n:]
			}
			if len(buf) < n {
				continue
			}
			sum := 0.0
			for _, v := range buf {
				sum += v
			}
			out <- pricePoint{T: p.T, Px: sum / float64(n)}
		}
	}()
	return out
}

// EMA computes an exponential moving average with the given period
// (alpha = 2/(period+1) unless alpha is explicitly overridden with a
// positive value). The first emitted value equals the first input.
func EMA(in <-chan pricePoint, period int, alpha float64) <-chan pricePoint {
	if alpha <= 0 {
		alpha = 2 / (float64(period) + 1)
	}
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		var prev float64
		first := true
		for p := range in {
			if first {
				prev = p.Px
				first = false
			} else {
				prev = alpha*p.Px + (1-alpha)*prev
			}
			out <- pricePoint{T: p.T, Px: prev}
		}
	}()
	return out
}

// ReturnKind selects simple or log pairwise returns.
type ReturnKind int

const (
	ReturnSimple ReturnKind = iota
	ReturnLog
)

// Returns emits pairwise returns between consecutive points.
func Returns(in <-chan pricePoint, kind ReturnKind) <-chan pricePoint {
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		var prev pricePoint
		has := false
		for p := range in {
			if has && prev.Px != 0 {
				var r float64
				if kind == ReturnLog {
					r = logf(p.Px / prev.Px)
				} else {
					r = (p.Px - prev.Px) / prev.Px
				}
				out <- pricePoint{T: p.T, Px: r}
			}
			prev = p
			has = true
		}
	}()
	return out
}

// RollingStdDev computes the sample standard deviation of the last N
// points.
func RollingStdDev(in <-chan pricePoint, n int) <-chan pricePoint {
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		buf := make([]float64, 0, n)
		for p := range in {
			buf = append(buf, p.Px)
			if len(buf) > n {
				buf = buf[len(buf)-n:]
			}
			if len(buf) < n {
				continue
			}
			out <- pricePoint{T: p.T, Px: stddev(buf)}
		}
	}()
	return out
}

// RollingZScore computes (x - mean)/max(std, epsilon) over the last N
// points.
func RollingZScore(in <-chan pricePoint, n int, epsilon float64) <-chan pricePoint {
	out := make(chan pricePoint)
	go func() {
		defer close(out)
		buf := make([]float64, 0, n)
		for p := range in {
			buf = append(buf, p.Px)
			if len(buf) > n {
				buf = buf[len(buf)-n:]
			}
			if len(buf) < n {
				continue
			}
			mean := meanf(buf)
			sd := stddev(buf)
			if sd < epsilon {
				sd = epsilon
			}
			out <- pricePoint{T: p.T, Px: (p.Px - mean) / sd}
		}
	}()
	return out
}

// MinMax is a rolling (min, max) pair over the last N points.
type MinMax struct {
	T        int64
	Min, Max float64
}

// RollingMinMax tracks the min/max of the last N points.
func RollingMinMax(in <-chan pricePoint, n int) <-chan MinMax {
	out := make(chan MinMax)
	go func() {
		defer close(out)
		buf := make([]float64, 0, n)
		for p := range in {
			buf = append(buf, p.Px)
			if len(buf) > n {
				buf = buf[len(buf)-n:]
			}
			if len(buf) < n {
				continue
			}
			lo, hi := buf[0], buf[0]
			for _, v := range buf {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			out <- MinMax{T: p.T, Min: lo, Max: hi}
		}
	}()
	return out
}

// CrossDirection identifies which way a fast/slow pair crossed.
type CrossDirection int

const (
	CrossNone CrossDirection = iota
	CrossAbove
	CrossBelow
)

// FastSlowPoint is the input shape DetectCrossovers consumes. Px is a raw
// (pre-average) price the producer attaches at T, carried through so a
// detected crossover can be turned into a signal priced at a real observed
// tick rather than at the averaged Fast/Slow value; T need not be the same
// tick Fast/Slow were computed from — see individual producers (e.g.
// zipFastSlow) for their own T/Px convention.
type FastSlowPoint struct {
	T          int64
	Fast, Slow float64
	Px         float64
}

// CrossEvent is one detected crossover.
type CrossEvent struct {
	T         int64
	Direction CrossDirection
	Px        float64
}

// DetectCrossovers emits CROSS_ABOVE when prev.fast-prev.slow<=0 and
// curr.fast-curr.slow>0, and CROSS_BELOW symmetrically.
func DetectCrossovers(in <-chan FastSlowPoint) <-chan CrossEvent {
	out := make(chan CrossEvent)
	go func() {
		defer close(out)
		var prevDiff float64
		has := false
		for p := range in {
			diff := p.Fast - p.Slow
			if has {
				switch {
				case prevDiff <= 0 && diff > 0:
					out <- CrossEvent{T: p.T, Direction: CrossAbove, Px: p.Px}
				case prevDiff >= 0 && diff < 0:
					out <- CrossEvent{T: p.T, Direction: CrossBelow, Px: p.Px}
				}
			}
			prevDiff = diff
			has = true
		}
	}()
	return out
}

// DedupeConsecutiveSignals drops adjacent signals whose Action repeats.
func DedupeConsecutiveSignals(in <-chan domain.StrategySignal) <-chan domain.StrategySignal {
	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		var lastAction domain.StrategyAction
		has := false
		for s := range in {
			if has && s.Action == lastAction {
				continue
			}
			lastAction = s.Action
			has = true
			out <- s
		}
	}()
	return out
}

// WithSignalCooldown emits a signal only if at least cooldownMs has
// elapsed since the last emission.
func WithSignalCooldown(in <-chan domain.StrategySignal, cooldownMs int64) <-chan domain.StrategySignal {
	out := make(chan domain.StrategySignal)
	go func() {
		defer close(out)
		var lastEmitTs int64
		has := false
		for s := range in {
			if has && s.T-lastEmitTs < cooldownMs {
				continue
			}
			lastEmitTs = s.T
			has = true
			out <- s
		}
	}()
	return out
}
