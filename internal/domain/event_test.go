package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEvent_RoundTripsPayload(t *testing.T) {
	tick, err := NewMarketTick(1000, "btc-usd", 100, 101, 0, true, true, false)
	require.NoError(t, err)

	evt, err := NewEvent(KindMarketTick, 1000, tick, map[string]string{"src": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, evt.ID)
	require.Equal(t, KindMarketTick, evt.Type)
	require.NoError(t, evt.Validate())

	var decoded MarketTick
	require.NoError(t, evt.DecodeData(&decoded))
	require.Equal(t, "BTC-USD", decoded.Symbol)
	require.Equal(t, 100.0, decoded.Bid)
}

func TestDomainEvent_ValidateRejectsMissingID(t *testing.T) {
	evt := DomainEvent{Type: KindMarketTick, Ts: 1}
	require.Error(t, evt.Validate())
}

func TestDomainEvent_ValidateRejectsUnknownKind(t *testing.T) {
	evt := DomainEvent{ID: "x", Type: "bogus.kind", Ts: 1}
	require.Error(t, evt.Validate())
}

func TestDomainEvent_ValidateRejectsMalformedPayload(t *testing.T) {
	sig := StrategySignal{Symbol: "BTC-USD", Action: "HOLD", Px: 100, T: 1}
	evt, err := NewEvent(KindStrategySignal, 1, sig, nil)
	require.NoError(t, err)
	require.Error(t, evt.Validate(), "action must be BUY or SELL")
}

func TestPositionState_NetRealized(t *testing.T) {
	p := PositionState{GrossRealized: 100, FeesPaid: 12.5}
	require.Equal(t, 87.5, p.NetRealized())
}

func TestBalanceSnapshotPayload_Drift(t *testing.T) {
	b := BalanceSnapshotPayload{ProviderTotal: 100, LedgerTotal: 97.5}
	require.Equal(t, 2.5, b.Drift())

	b2 := BalanceSnapshotPayload{ProviderTotal: 90, LedgerTotal: 97.5}
	require.Equal(t, 7.5, b2.Drift())
}
