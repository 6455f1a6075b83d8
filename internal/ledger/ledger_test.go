package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveAndRelease(t *testing.T) {
	l := New()
	l.Seed("binance", "USDT", decimal.NewFromInt(1000))

	require.NoError(t, l.Reserve("binance", "USDT", decimal.NewFromInt(400)))
	require.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(600)))
	require.True(t, l.Total("binance", "USDT").Equal(decimal.NewFromInt(1000)))

	l.Release("binance", "USDT", decimal.NewFromInt(400))
	require.True(t, l.Available("binance", "USDT").Equal(decimal.NewFromInt(1000)))
}

func TestLedger_ReserveInsufficientFails(t *testing.T) {
	l := New()
	l.Seed("binance", "USDT", decimal.NewFromInt(100))
	err := l.Reserve("binance", "USDT", decimal.NewFromInt(200))
	require.Error(t, err)
}

func TestLedger_ApplyEmitsAdjustedEvent(t *testing.T) {
	l := New()
	l.Seed("binance", "BTC", decimal.NewFromInt(1))
	evt := l.Apply("binance", "BTC", decimal.NewFromFloat(0.5), 1000, "fill")
	require.Equal(t, "binance", evt.Venue)
	require.Equal(t, "BTC", evt.Asset)
	require.InDelta(t, 0.5, evt.Delta, 1e-9)
	require.InDelta(t, 1.5, evt.NewTotal, 1e-9)
	require.True(t, evt.HasNewTotal)
}
