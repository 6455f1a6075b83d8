package ledger

import "github.com/shopspring/decimal"

// VenueGuard adapts a Ledger scoped to one venue into risk.AccountExposureGuard
// (defined where it's consumed, in internal/risk, to keep that package's
// dependency surface narrow): Available/Reserve/Release by asset only, the
// venue fixed at construction.
type VenueGuard struct {
	Ledger *Ledger
	Venue  string
}

// Available returns the unlocked balance for asset at this guard's venue.
func (g VenueGuard) Available(asset string) float64 {
	f, _ := g.Ledger.Available(g.Venue, asset).Float64()
	return f
}

// Reserve locks amount of asset out of available balance.
func (g VenueGuard) Reserve(asset string, amount float64) error {
	return g.Ledger.Reserve(g.Venue, asset, decimal.NewFromFloat(amount))
}

// Release reverses a prior Reserve.
func (g VenueGuard) Release(asset string, amount float64) {
	g.Ledger.Release(g.Venue, asset, decimal.NewFromFloat(amount))
}
