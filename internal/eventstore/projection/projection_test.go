package projection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/xerrors"
)

func fillEvent(t *testing.T, ts int64, symbol string, side domain.Side, qty, px, fee float64) domain.DomainEvent {
	t.Helper()
	f := domain.Fill{
		ID: domain.NewID(), OrderID: domain.NewID(), T: ts,
		Symbol: symbol, Px: px, Qty: qty, Side: side, Fee: fee,
	}
	evt, err := domain.NewEvent(domain.KindOrderFill, ts, f, nil)
	require.NoError(t, err)
	return evt
}

func TestPositions_OpenAddReduceRealizes(t *testing.T) {
	p := NewPositions()

	require.NoError(t, p.Apply(fillEvent(t, 1, "SIM", domain.SideBuy, 10, 100, 1)))
	st := p.Get("SIM")
	require.Equal(t, 10.0, st.Pos)
	require.Equal(t, 100.0, st.AvgPx)

	// Adding at a higher price moves the weighted average entry.
	require.NoError(t, p.Apply(fillEvent(t, 2, "SIM", domain.SideBuy, 10, 110, 1)))
	st = p.Get("SIM")
	require.Equal(t, 20.0, st.Pos)
	require.InDelta(t, 105, st.AvgPx, 1e-9)

	// Selling half realizes PnL on the closed portion only.
	require.NoError(t, p.Apply(fillEvent(t, 3, "SIM", domain.SideSell, 10, 115, 1)))
	st = p.Get("SIM")
	require.Equal(t, 10.0, st.Pos)
	require.InDelta(t, 100, st.GrossRealized, 1e-9) // 10 * (115 - 105)
	require.InDelta(t, 3, st.FeesPaid, 1e-9)
	require.InDelta(t, 97, st.NetRealized(), 1e-9)
}

func TestPositions_FlipThroughZero(t *testing.T) {
	p := NewPositions()

	require.NoError(t, p.Apply(fillEvent(t, 1, "SIM", domain.SideBuy, 10, 100, 0)))
	require.NoError(t, p.Apply(fillEvent(t, 2, "SIM", domain.SideSell, 15, 110, 0)))

	st := p.Get("SIM")
	require.Equal(t, -5.0, st.Pos)
	require.InDelta(t, 100, st.GrossRealized, 1e-9) // full long realized at 110
	require.Equal(t, 110.0, st.AvgPx, "remainder opens at the flip price")
}

func TestPositions_SnapshotReplacesState(t *testing.T) {
	p := NewPositions()
	require.NoError(t, p.Apply(fillEvent(t, 1, "SIM", domain.SideBuy, 10, 100, 0)))

	snap := domain.PortfolioSnapshot{
		T: 2,
		Positions: map[string]domain.PositionState{
			"ETH-USD": {Symbol: "ETH-USD", Pos: 3, AvgPx: 2000},
		},
	}
	evt, err := domain.NewEvent(domain.KindPortfolioSnapshot, 2, snap, nil)
	require.NoError(t, err)
	require.NoError(t, p.Apply(evt))

	require.Equal(t, 0.0, p.Get("SIM").Pos, "snapshot replaces the previous fold")
	require.Equal(t, 3.0, p.Get("ETH-USD").Pos)
}

// TestPositions_FoldEqualsIncrementalApply is the pure-fold law: folding a
// prefix all at once equals applying it event by event.
func TestPositions_FoldEqualsIncrementalApply(t *testing.T) {
	events := []domain.DomainEvent{
		fillEvent(t, 1, "SIM", domain.SideBuy, 10, 100, 1),
		fillEvent(t, 2, "SIM", domain.SideBuy, 5, 106, 1),
		fillEvent(t, 3, "SIM", domain.SideSell, 12, 110, 1),
		fillEvent(t, 4, "ETH-USD", domain.SideSell, 2, 2000, 0.5),
	}

	folded, err := Fold(events)
	require.NoError(t, err)

	incremental := NewPositions()
	for _, e := range events {
		require.NoError(t, incremental.Apply(e))
	}

	require.Equal(t, incremental.All(), folded.All())
}

func balanceEvent(t *testing.T, adj domain.BalanceAdjusted) domain.DomainEvent {
	t.Helper()
	evt, err := domain.NewEvent(domain.KindBalanceAdjusted, adj.T, adj, nil)
	require.NoError(t, err)
	return evt
}

func TestBalances_AppliesDeltaAndMatchingNewTotal(t *testing.T) {
	b := NewBalances()

	require.NoError(t, b.Apply(balanceEvent(t, domain.BalanceAdjusted{
		Venue: "primary", Asset: "USD", Delta: 1000, T: 1,
	})))
	require.NoError(t, b.Apply(balanceEvent(t, domain.BalanceAdjusted{
		Venue: "primary", Asset: "USD", Delta: -250, NewTotal: 750, HasNewTotal: true, T: 2,
	})))

	require.InDelta(t, 750, b.Total("primary", "USD"), 1e-9)
}

// TestBalances_NewTotalMismatchIsInvariantViolation covers the balance
// reducer invariant: |newTotal - (existing+delta)| must stay under
// tolerance or the reducer fails instead of silently accepting.
func TestBalances_NewTotalMismatchIsInvariantViolation(t *testing.T) {
	b := NewBalances()

	require.NoError(t, b.Apply(balanceEvent(t, domain.BalanceAdjusted{
		Venue: "primary", Asset: "USD", Delta: 1000, T: 1,
	})))

	err := b.Apply(balanceEvent(t, domain.BalanceAdjusted{
		Venue: "primary", Asset: "USD", Delta: -250, NewTotal: 700, HasNewTotal: true, T: 2,
	}))
	require.Error(t, err)

	var inv *xerrors.InvariantViolation
	require.ErrorAs(t, err, &inv)
	require.InDelta(t, 1000, b.Total("primary", "USD"), 1e-9, "failed event must not mutate state")
}

func TestOrders_LifecycleFold(t *testing.T) {
	o := NewOrders()

	order := domain.OrderNew{
		ID: domain.NewID(), T: 1, Symbol: "SIM", Side: domain.SideBuy,
		Qty: 5, Type: domain.OrderTypeMarket, TIF: domain.TIFIOC, Account: "acct",
	}
	newEvt, err := domain.NewEvent(domain.KindOrderNew, 1, order, nil)
	require.NoError(t, err)
	require.NoError(t, o.Apply(newEvt))

	ack := domain.OrderAckPayload{OrderID: order.ID, T: 2}
	ackEvt, err := domain.NewEvent(domain.KindOrderAck, 2, ack, nil)
	require.NoError(t, err)
	require.NoError(t, o.Apply(ackEvt))

	fill := domain.Fill{ID: domain.NewID(), OrderID: order.ID, T: 3, Symbol: "SIM", Px: 100, Qty: 5, Side: domain.SideBuy}
	fillEvt, err := domain.NewEvent(domain.KindOrderFill, 3, fill, nil)
	require.NoError(t, err)
	require.NoError(t, o.Apply(fillEvt))

	v := o.Get(order.ID)
	require.NotNil(t, v)
	require.True(t, v.Submitted)
	require.True(t, v.Acked)
	require.Equal(t, 5.0, v.FilledQty)
	require.Len(t, v.Fills, 1)

	// Mutating a returned view must not leak back into the projection.
	v.FilledQty = 0
	require.Equal(t, 5.0, o.Get(order.ID).FilledQty)
}
