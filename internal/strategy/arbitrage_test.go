package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

func TestValidateArbitrageParams(t *testing.T) {
	require.NoError(t, validateArbitrageParams(map[string]any{
		"primaryFeed": "venueA", "secondaryFeed": "venueB", "spreadBps": 5.0,
	}))

	// Same venue for both legs is an error.
	err := validateArbitrageParams(map[string]any{
		"primaryFeed": "venueA", "secondaryFeed": "venueA", "spreadBps": 5.0,
	})
	require.Error(t, err)
}

// TestArbitrage_SpreadEmitsBuy: primary=100,
// secondary=101, spreadBps=10 emits BUY timestamped at the max of the two
// tick times; a subsequent in-cooldown spread is suppressed.
func TestArbitrage_SpreadEmitsBuy(t *testing.T) {
	primary := make(chan domain.MarketTick, 8)
	secondary := make(chan domain.MarketTick, 8)

	primary <- mustTick(t, "SIM", 100, 100)
	secondary <- mustTick(t, "SIM", 105, 101)

	ctx := Context{
		TradeSymbol: "SIM",
		FeedSources: []FeedSource{
			{ID: "venueA", Stream: primary},
			{ID: "venueB", Stream: secondary},
		},
	}
	out, err := NewArbitrage(ctx, map[string]any{
		"primaryFeed": "venueA", "secondaryFeed": "venueB",
		"spreadBps": 10.0, "maxAgeMs": 1000.0, "minIntervalMs": 1000.0,
	})
	require.NoError(t, err)

	signal := <-out
	require.Equal(t, domain.ActionBuy, signal.Action)
	require.Equal(t, int64(105), signal.T)

	// Within cooldown: secondary moves to 101.5, still a qualifying spread,
	// but suppressed by minIntervalMs.
	secondary <- mustTick(t, "SIM", 600, 101.5)
	close(primary)
	close(secondary)

	var more []domain.StrategySignal
	for s := range out {
		more = append(more, s)
	}
	require.Empty(t, more)
}
