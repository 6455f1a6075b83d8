package strategy

import (
	"fmt"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// FeedSource is one named tick stream a strategy can read from.
type FeedSource struct {
	ID     string
	Stream <-chan domain.MarketTick
}

// Context is the narrow input every registered strategy constructor
// receives. CreateExternalFeed lets a
// strategy request an ad hoc auxiliary feed (e.g. a second venue for
// arbitrage) keyed by (type, symbol, idSuffix) instead of depending on the
// feed manager directly.
type Context struct {
	TradeSymbol        string
	FeedSources        []FeedSource
	Marks              <-chan domain.MarketTick
	CreateExternalFeed func(feedType, symbol, idSuffix string) (<-chan domain.MarketTick, error)
}

// FeedByID returns the named feed source, or an error if it was not
// supplied to this strategy instance.
func (c Context) FeedByID(id string) (<-chan domain.MarketTick, error) {
	for _, f := range c.FeedSources {
		if f.ID == id {
			return f.Stream, nil
		}
	}
	return nil, fmt.Errorf("strategy.Context: feed %q not found", id)
}

// Constructor builds a strategy instance from validated params, returning
// its signal stream. Construction errors are returned synchronously;
// runtime errors terminate only that strategy's goroutine.
type Constructor func(ctx Context, params map[string]any) (<-chan domain.StrategySignal, error)

// ParamValidator checks a raw params map before construction.
type ParamValidator func(params map[string]any) error
