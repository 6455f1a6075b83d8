// Package ledger tracks per-(venue, asset) balances with
// shopspring/decimal instead of float64: the balance-reducer invariant
// (|newTotal - (existing.total+delta)| < 1e-6) only catches real
// inconsistencies if the arithmetic producing newTotal carries no float
// noise of its own. Apply returns the account.balance.adjusted event the
// Balances projection folds, and the Ledger backs
// risk.AccountExposureGuard, so pre-trade risk reserves and releases
// against the ledger's own numbers.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

type key struct {
	venue string
	asset string
}

type balance struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

func (b balance) total() decimal.Decimal { return b.available.Add(b.locked) }

// Ledger is a concurrency-safe in-memory balance book. It is not durable.
// Apply returns an account.balance.adjusted event for its caller to
// append; Seed, Reserve, and Release produce no event. The engine seeds
// the ledger and reserves/releases through VenueGuard; it does not call
// Apply on fills, so fills do not change ledger balances.
type Ledger struct {
	mu       sync.Mutex
	balances map[key]balance
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[key]balance)}
}

// Seed sets an initial available balance for (venue, asset), used at
// startup before any fills have occurred.
func (l *Ledger) Seed(venue, asset string, available decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key{venue, asset}] = balance{available: available}
}

// Available returns the unlocked balance for (venue, asset).
func (l *Ledger) Available(venue, asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key{venue, asset}].available
}

// Total returns available+locked for (venue, asset).
func (l *Ledger) Total(venue, asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key{venue, asset}].total()
}

// Reserve locks amount out of available, failing if insufficient. It is
// the hook risk.AccountExposureGuard calls when an order is allowed, and
// is undone by Release on revert.
func (l *Ledger) Reserve(venue, asset string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{venue, asset}
	b := l.balances[k]
	if b.available.LessThan(amount) {
		return fmt.Errorf("ledger.Reserve: %s/%s: insufficient available balance: have %s, need %s",
			venue, asset, b.available, amount)
	}
	b.available = b.available.Sub(amount)
	b.locked = b.locked.Add(amount)
	l.balances[k] = b
	return nil
}

// Release reverses a prior Reserve, moving amount back from locked to
// available.
func (l *Ledger) Release(venue, asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{venue, asset}
	b := l.balances[k]
	locked := b.locked.Sub(amount)
	if locked.IsNegative() {
		locked = decimal.Zero
	}
	b.locked = locked
	b.available = b.available.Add(amount)
	l.balances[k] = b
}

// Apply adjusts available by delta directly (e.g. on fill settlement,
// fee debit, or an external transfer), returning the
// account.balance.adjusted event to append.
func (l *Ledger) Apply(venue, asset string, delta decimal.Decimal, ts int64, reason string) domain.BalanceAdjusted {
	l.mu.Lock()
	k := key{venue, asset}
	b := l.balances[k]
	b.available = b.available.Add(delta)
	l.balances[k] = b
	newTotal := b.total()
	l.mu.Unlock()

	deltaF, _ := delta.Float64()
	newTotalF, _ := newTotal.Float64()
	return domain.BalanceAdjusted{
		Venue: venue, Asset: asset, Delta: deltaF,
		NewTotal: newTotalF, HasNewTotal: true, T: ts, Reason: reason,
	}
}
