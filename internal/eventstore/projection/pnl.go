package projection

import (
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// PnL mirrors the latest pnl.analytics event, keeping NAV, realized, fees,
// and unrealized figures separate (the netRealized vs grossRealized open
// question: never conflated, NetRealized() derives the net figure on read).
type PnL struct {
	mu     sync.RWMutex
	latest domain.PnLAnalytics
	series []domain.PnLAnalytics // per-tick NAV series for backtest output
}

// NewPnL returns an empty PnL projection.
func NewPnL() *PnL {
	return &PnL{}
}

// Latest returns the most recent pnl.analytics fold.
func (p *PnL) Latest() domain.PnLAnalytics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Series returns the full per-event NAV series accumulated so far, used by
// the backtest harness to compute aggregate stats (max drawdown, Sharpe).
func (p *PnL) Series() []domain.PnLAnalytics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PnLAnalytics, len(p.series))
	copy(out, p.series)
	return out
}

// Apply folds one pnl.analytics event; other kinds are ignored.
func (p *PnL) Apply(e domain.DomainEvent) error {
	if e.Type != domain.KindPnLAnalytics {
		return nil
	}
	var pnl domain.PnLAnalytics
	if err := e.DecodeData(&pnl); err != nil {
		return err
	}
	p.mu.Lock()
	p.latest = pnl
	p.series = append(p.series, pnl)
	p.mu.Unlock()
	return nil
}

// FoldPnL rebuilds a PnL projection from a full event slice.
func FoldPnL(events []domain.DomainEvent) (*PnL, error) {
	p := NewPnL()
	for _, e := range events {
		if err := p.Apply(e); err != nil {
			return nil, err
		}
	}
	return p, nil
}
