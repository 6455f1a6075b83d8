package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func TestValidatePairParams(t *testing.T) {
	base := map[string]any{
		"window": 5.0, "entryZ": 2.0, "exitZ": 0.5,
		"baseFeed": "a", "quoteFeed": "b",
	}
	require.NoError(t, validatePairParams(base))

	missingFeed := map[string]any{"window": 5.0, "entryZ": 2.0, "exitZ": 0.5, "baseFeed": "a"}
	require.Error(t, validatePairParams(missingFeed))

	badZ := map[string]any{
		"window": 5.0, "entryZ": 1.0, "exitZ": 2.0,
		"baseFeed": "a", "quoteFeed": "b",
	}
	require.Error(t, validatePairParams(badZ))
}

// TestPair_EmitsOnExtremeRatio drives a clear ratio divergence and expects
// a SELL once the z-score crosses entryZ.
func TestPair_EmitsOnExtremeRatio(t *testing.T) {
	base := make(chan domain.MarketTick, 64)
	quote := make(chan domain.MarketTick, 64)

	// Flat ratio of 1.0 to build up the rolling window, then a spike.
	ratios := []float64{1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 3.0}
	for i, r := range ratios {
		ts := int64(i*2 + 1)
		base <- mustTick(t, "BASEQ", ts, r*100)
		quote <- mustTick(t, "BASEQ", ts+1, 100)
	}
	close(base)
	close(quote)

	ctx := Context{
		TradeSymbol: "BASEQ",
		FeedSources: []FeedSource{
			{ID: "a", Stream: base},
			{ID: "b", Stream: quote},
		},
	}
	out, err := NewPair(ctx, map[string]any{
		"window": 10.0, "entryZ": 2.0, "exitZ": 0.5,
		"baseFeed": "a", "quoteFeed": "b", "minIntervalMs": 0.0,
	})
	require.NoError(t, err)

	var signals []domain.StrategySignal
	for s := range out {
		signals = append(signals, s)
	}
	require.NotEmpty(t, signals)
	require.Equal(t, domain.ActionSell, signals[0].Action)
}
