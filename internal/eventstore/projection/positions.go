// Package projection folds the event log into the read models the rest of
// the engine queries: positions, PnL, balances, margin, and an orders view.
// Each is a pure fold built on demand via store.Read + Fold, with an
// incremental Apply
// entry point for live subscribers.
package projection

import (
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/xerrors"
)

// Positions is the per-symbol position state, folded from order.fill,
// position.mark, and portfolio.snapshot events.
type Positions struct {
	mu       sync.RWMutex
	bySymbol map[string]domain.PositionState
}

// NewPositions returns an empty Positions projection.
func NewPositions() *Positions {
	return &Positions{bySymbol: make(map[string]domain.PositionState)}
}

// Get returns the current state for symbol, or the zero value if untracked.
func (p *Positions) Get(symbol string) domain.PositionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bySymbol[symbol]
}

// All returns a snapshot copy of every tracked symbol's state.
func (p *Positions) All() map[string]domain.PositionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.PositionState, len(p.bySymbol))
	for k, v := range p.bySymbol {
		out[k] = v
	}
	return out
}

// Apply folds one event into the projection. Unrecognized kinds are
// ignored; this projection only reacts to the kinds it's documented to.
func (p *Positions) Apply(e domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Type {
	case domain.KindOrderFill:
		var f domain.Fill
		if err := e.DecodeData(&f); err != nil {
			return err
		}
		p.applyFill(f)
	case domain.KindPositionMark:
		var m domain.PositionMark
		if err := e.DecodeData(&m); err != nil {
			return err
		}
		st := p.bySymbol[m.Symbol]
		st.Symbol = m.Symbol
		st.Mark = m.Mark
		p.bySymbol[m.Symbol] = st
	case domain.KindPortfolioSnapshot:
		var snap domain.PortfolioSnapshot
		if err := e.DecodeData(&snap); err != nil {
			return err
		}
		p.bySymbol = make(map[string]domain.PositionState, len(snap.Positions))
		for k, v := range snap.Positions {
			p.bySymbol[k] = v
		}
	}
	return nil
}

// applyFill updates average entry price and realized PnL. Closing or
// flipping a position realizes PnL on the portion that crosses zero,
// matching a standard weighted-average-cost accounting model.
func (p *Positions) applyFill(f domain.Fill) {
	st := p.bySymbol[f.Symbol]
	st.Symbol = f.Symbol

	signedQty := f.Qty * f.Side.Sign()
	newPos := st.Pos + signedQty

	switch {
	case st.Pos == 0 || sameSign(st.Pos, newPos):
		// Opening, adding to, or fully reversing through zero within the
		// same fill never happens here because newPos keeps the sign only
		// when not crossing zero; weighted average applies when adding.
		if st.Pos == 0 || sameSign(st.Pos, signedQty) {
			totalCost := st.AvgPx*absf(st.Pos) + f.Px*f.Qty
			st.Pos = newPos
			if newPos != 0 {
				st.AvgPx = totalCost / absf(newPos)
			} else {
				st.AvgPx = 0
			}
		} else {
			// Reducing: realize PnL on the closed portion.
			closedQty := minf(absf(signedQty), absf(st.Pos))
			realized := closedQty * (f.Px - st.AvgPx) * signOf(st.Pos)
			st.GrossRealized += realized
			st.Pos = newPos
		}
	default:
		// Crossed through zero: realize PnL on the entire old position,
		// then open the remainder at f.Px.
		realized := absf(st.Pos) * (f.Px - st.AvgPx) * signOf(st.Pos)
		st.GrossRealized += realized
		st.Pos = newPos
		st.AvgPx = f.Px
	}

	st.FeesPaid += f.Fee
	p.bySymbol[f.Symbol] = st
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}

func signOf(v float64) float64 {
	if v < 0 {
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

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Fold rebuilds a Positions projection from a full event slice, the
// replay-to-rebuild-state pattern every projection supports.
func Fold(events []domain.DomainEvent) (*Positions, error) {
	p := NewPositions()
	for _, e := range events {
		if err := p.Apply(e); err != nil {
			return nil, xerrors.NewFatalIO("projection.Fold", err)
		}
	}
	return p, nil
}
