package projection

import (
	"fmt"
	"math"
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/xerrors"
)

// balanceInvariantTolerance is the maximum allowed drift between a
// reported newTotal and existing.total+delta before the reducer refuses
// to apply the event.
const balanceInvariantTolerance = 1e-6

// Balances folds account.balance.adjusted events into a per-(venue,asset)
// ledger total, and account.balance.snapshot events into the latest
// venue-reported drift observation.
type Balances struct {
	mu        sync.RWMutex
	totals    map[balanceKey]float64
	snapshots map[balanceKey]domain.BalanceSnapshotPayload
}

type balanceKey struct {
	venue string
	asset string
}

// NewBalances returns an empty Balances projection.
func NewBalances() *Balances {
	return &Balances{
		totals:    make(map[balanceKey]float64),
		snapshots: make(map[balanceKey]domain.BalanceSnapshotPayload),
	}
}

// Total returns the ledger's current total for (venue, asset).
func (b *Balances) Total(venue, asset string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totals[balanceKey{venue, asset}]
}

// Snapshot returns the latest reported snapshot for (venue, asset), if any.
func (b *Balances) Snapshot(venue, asset string) (domain.BalanceSnapshotPayload, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.snapshots[balanceKey{venue, asset}]
	return s, ok
}

// Apply folds one event. A balance.adjusted event that carries a newTotal
// outside tolerance of existing+delta is an InvariantViolation: it must
// not be silently accepted.
func (b *Balances) Apply(e domain.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch e.Type {
	case domain.KindBalanceAdjusted:
		var adj domain.BalanceAdjusted
		if err := e.DecodeData(&adj); err != nil {
			return err
		}
		key := balanceKey{adj.Venue, adj.Asset}
		existing := b.totals[key]
		newTotal := existing + adj.Delta
		if adj.HasNewTotal {
			if math.Abs(adj.NewTotal-newTotal) >= balanceInvariantTolerance {
				return &xerrors.InvariantViolation{
					Projection: "Balances",
					Detail: fmt.Sprintf("%s/%s: reported newTotal %.8f does not match existing %.8f + delta %.8f",
						adj.Venue, adj.Asset, adj.NewTotal, existing, adj.Delta),
				}
			}
			newTotal = adj.NewTotal
		}
		b.totals[key] = newTotal
	case domain.KindBalanceSnapshot:
		var snap domain.BalanceSnapshotPayload
		if err := e.DecodeData(&snap); err != nil {
			return err
		}
		b.snapshots[balanceKey{snap.Venue, snap.Asset}] = snap
	}
	return nil
}

// FoldBalances rebuilds a Balances projection from a full event slice.
func FoldBalances(events []domain.DomainEvent) (*Balances, error) {
	b := NewBalances()
	for _, e := range events {
		if err := b.Apply(e); err != nil {
			return nil, err
		}
	}
	return b, nil
}
