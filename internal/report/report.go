// Package report prints the backtest harness's aggregate stats: a
// banner, a tablewriter table for the per-kind event breakdown, and a
// plain fmt.Fprintf aggregate section.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/tradeflow/internal/backtest"
	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Console prints backtest.Stats to an io.Writer (stdout in cmd/tradeflow).
type Console struct {
	out io.Writer
}

// New returns a Console that writes to out.
func New(out io.Writer) *Console { return &Console{out: out} }

// PrintBacktest prints stats as a banner, a per-kind event table, and
// an aggregate section.
func (c *Console) PrintBacktest(stats backtest.Stats) {
	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  BACKTEST REPORT\n")
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(stats.EventCounts) > 0 {
		kinds := make([]domain.EventKind, 0, len(stats.EventCounts))
		for kind := range stats.EventCounts {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Event Kind", "Count")
		for _, k := range kinds {
			tbl.Append(string(k), fmt.Sprintf("%d", stats.EventCounts[k]))
		}
		tbl.Render()
	}

	fmt.Fprintf(c.out, "\n  --- AGGREGATE ---\n")
	fmt.Fprintf(c.out, "  Ticks/sec:          %.1f\n", stats.TicksPerSec)
	fmt.Fprintf(c.out, "  Events/sec:         %.1f\n", stats.EventsPerSec)
	fmt.Fprintf(c.out, "  NAV start:          $%.2f\n", stats.NAVStart)
	fmt.Fprintf(c.out, "  NAV end:            $%.2f\n", stats.NAVEnd)
	fmt.Fprintf(c.out, "  NAV change:         $%.2f\n", stats.NAVChange)
	fmt.Fprintf(c.out, "  Max drawdown:       %.2f%%\n", stats.MaxDrawdownPct*100)
	fmt.Fprintf(c.out, "  Volatility:         %.4f%%\n", stats.VolatilityPct*100)
	fmt.Fprintf(c.out, "  Sharpe (unannual.): %.3f\n", stats.SharpeRatio)
}
