package backtest

import (
	"context"
	"math"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Stats is the aggregate summary a finished run reports:
// throughput, a per-kind event count, and NAV start/end/change/max
// drawdown/volatility/Sharpe derived from the PnL projection's NAV series.
type Stats struct {
	TicksPerSec  float64
	EventsPerSec float64
	EventCounts  map[domain.EventKind]int

	NAVStart        float64
	NAVEnd          float64
	NAVChange       float64
	MaxDrawdownPct  float64
	VolatilityPct   float64 // stdev of per-tick NAV returns
	SharpeRatio     float64 // mean return / stdev return, unannualized
}

// Stats computes the run's aggregate statistics. tickCount and wall is the
// number of replayed ticks and the wall-clock time Replay took, used only
// for the ticks/sec and events/sec throughput figures — every other field
// is derived purely from the event log and NAV series, so it reproduces
// identically across repeated runs with the same dataset and config.
func (h *Harness) Stats(ctx context.Context, tickCount int, wall time.Duration) (Stats, error) {
	events, err := h.Store.Read(ctx, 0)
	if err != nil {
		return Stats{}, err
	}

	counts := make(map[domain.EventKind]int)
	for _, e := range events {
		counts[e.Type]++
	}

	seconds := wall.Seconds()
	stats := Stats{
		EventCounts: counts,
	}
	if seconds > 0 {
		stats.TicksPerSec = float64(tickCount) / seconds
		stats.EventsPerSec = float64(len(events)) / seconds
	}

	nav := h.pnl.Series()
	if len(nav) == 0 {
		return stats, nil
	}

	stats.NAVStart = nav[0].NAV
	stats.NAVEnd = nav[len(nav)-1].NAV
	stats.NAVChange = stats.NAVEnd - stats.NAVStart
	stats.MaxDrawdownPct = maxDrawdown(nav)
	stats.VolatilityPct, stats.SharpeRatio = returnStats(nav)
	return stats, nil
}

// maxDrawdown returns the largest peak-to-trough decline in the NAV
// series, as a fraction of the peak.
func maxDrawdown(nav []domain.PnLAnalytics) float64 {
	peak := nav[0].NAV
	worst := 0.0
	for _, p := range nav {
		if p.NAV > peak {
			peak = p.NAV
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.NAV) / peak
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

// returnStats computes the standard deviation of per-step NAV returns and
// the unannualized Sharpe ratio (mean return / stdev), 0 when fewer than
// two returns are available or the series has zero variance.
func returnStats(nav []domain.PnLAnalytics) (stdev, sharpe float64) {
	if len(nav) < 2 {
		return 0, 0
	}
	returns := make([]float64, 0, len(nav)-1)
	for i := 1; i < len(nav); i++ {
		prev := nav[i-1].NAV
		if prev == 0 {
			continue
		}
		returns = append(returns, (nav[i].NAV-prev)/prev)
	}
	if len(returns) == 0 {
		return 0, 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdev = math.Sqrt(variance)
	if stdev == 0 {
		return 0, 0
	}
	return stdev, mean / stdev
}
