package projection

import (
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Margin mirrors the latest account.margin.updated event per venue.
type Margin struct {
	mu      sync.RWMutex
	byVenue map[string]domain.MarginSummary
}

// NewMargin returns an empty Margin projection.
func NewMargin() *Margin {
	return &Margin{byVenue: make(map[string]domain.MarginSummary)}
}

// Get returns the latest margin summary for venue, or the zero value.
func (m *Margin) Get(venue string) domain.MarginSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byVenue[venue]
}

// Apply folds one account.margin.updated event; other kinds are ignored.
func (m *Margin) Apply(e domain.DomainEvent) error {
	if e.Type != domain.KindMarginUpdated {
		return nil
	}
	var sum domain.MarginSummary
	if err := e.DecodeData(&sum); err != nil {
		return err
	}
	m.mu.Lock()
	m.byVenue[sum.Venue] = sum
	m.mu.Unlock()
	return nil
}

// FoldMargin rebuilds a Margin projection from a full event slice.
func FoldMargin(events []domain.DomainEvent) (*Margin, error) {
	m := NewMargin()
	for _, e := range events {
		if err := m.Apply(e); err != nil {
			return nil, err
		}
	}
	return m, nil
}
