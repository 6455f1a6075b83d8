package domain

import (
	"fmt"
	"strings"
)

// PriceSource names which field of a MarketTick a price should be read from.
type PriceSource string

const (
	SourceLast PriceSource = "last"
	SourceMid  PriceSource = "mid"
	SourceBid  PriceSource = "bid"
	SourceAsk  PriceSource = "ask"
)

// MarketTick is a normalized price observation. At least one of Bid, Ask, or
// Last must be present; ticks are immutable once constructed.
type MarketTick struct {
	T        int64   `json:"t"`
	Symbol   string  `json:"symbol"`
	Bid      float64 `json:"bid,omitempty"`
	Ask      float64 `json:"ask,omitempty"`
	Last     float64 `json:"last,omitempty"`
	BidSize  float64 `json:"bidSize,omitempty"`
	AskSize  float64 `json:"askSize,omitempty"`
	HasBid   bool    `json:"hasBid"`
	HasAsk   bool    `json:"hasAsk"`
	HasLast  bool    `json:"hasLast"`
}

// NewMarketTick normalizes the symbol to upper-case and validates that at
// least one of bid/ask/last is present.
func NewMarketTick(t int64, symbol string, bid, ask, last float64, hasBid, hasAsk, hasLast bool) (MarketTick, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return MarketTick{}, fmt.Errorf("domain.NewMarketTick: symbol is required")
	}
	if !hasBid && !hasAsk && !hasLast {
		return MarketTick{}, fmt.Errorf("domain.NewMarketTick: at least one of bid/ask/last is required")
	}
	if hasBid && bid <= 0 {
		return MarketTick{}, fmt.Errorf("domain.NewMarketTick: bid must be positive")
	}
	if hasAsk && ask <= 0 {
		return MarketTick{}, fmt.Errorf("domain.NewMarketTick: ask must be positive")
	}
	if hasLast && last <= 0 {
		return MarketTick{}, fmt.Errorf("domain.NewMarketTick: last must be positive")
	}
	return MarketTick{
		T: t, Symbol: sym, Bid: bid, Ask: ask, Last: last,
		HasBid: hasBid, HasAsk: hasAsk, HasLast: hasLast,
	}, nil
}

// Validate re-checks the invariants NewMarketTick enforces, so a MarketTick
// decoded off the wire or out of a market.tick event gets the same
// guarantees as one built in-process.
func (m MarketTick) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !m.HasBid && !m.HasAsk && !m.HasLast {
		return fmt.Errorf("at least one of bid/ask/last is required")
	}
	return nil
}

// Mid returns (bid+ask)/2 when both sides are present, else 0.
func (m MarketTick) Mid() float64 {
	if m.HasBid && m.HasAsk {
		return (m.Bid + m.Ask) / 2
	}
	return 0
}

// PriceFrom resolves a price from the tick for the requested source, with
// this fallback order: last -> mid -> bid -> ask for the "last" source,
// mid -> last -> bid -> ask for the "mid" source; bid/ask sources fall back
// to last then to the opposite side's best available quote.
func (m MarketTick) PriceFrom(source PriceSource) (float64, bool) {
	switch source {
	case SourceLast:
		if m.HasLast {
			return m.Last, true
		}
		if mid := m.Mid(); mid > 0 {
			return mid, true
		}
		if m.HasBid {
			return m.Bid, true
		}
		if m.HasAsk {
			return m.Ask, true
		}
	case SourceMid:
		if mid := m.Mid(); mid > 0 {
			return mid, true
		}
		if m.HasLast {
			return m.Last, true
		}
		if m.HasBid {
			return m.Bid, true
		}
		if m.HasAsk {
			return m.Ask, true
		}
	case SourceBid:
		if m.HasBid {
			return m.Bid, true
		}
		if m.HasLast {
			return m.Last, true
		}
		if m.HasAsk {
			return m.Ask, true
		}
	case SourceAsk:
		if m.HasAsk {
			return m.Ask, true
		}
		if m.HasLast {
			return m.Last, true
		}
		if m.HasBid {
			return m.Bid, true
		}
	}
	return 0, false
}
