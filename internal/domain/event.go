package domain

import (
	"fmt"

	json "github.com/segmentio/encoding/json"
)

// EventKind identifies the tagged variant of a DomainEvent. Every kind has a
// concrete, validated payload type registered in payloadValidators below.
type EventKind string

const (
	KindMarketTick            EventKind = "market.tick"
	KindMarketBar             EventKind = "market.bar"
	KindStrategySignal        EventKind = "strategy.signal"
	KindStrategyIntent        EventKind = "strategy.intent"
	KindRiskCheck             EventKind = "risk.check"
	KindOrderNew              EventKind = "order.new"
	KindOrderAck              EventKind = "order.ack"
	KindOrderReject           EventKind = "order.reject"
	KindOrderCancel           EventKind = "order.cancel"
	KindOrderFill             EventKind = "order.fill"
	KindPortfolioSnapshot     EventKind = "portfolio.snapshot"
	KindPositionMark          EventKind = "position.mark"
	KindSentimentUpdate       EventKind = "sentiment.update"
	KindPnLAnalytics          EventKind = "pnl.analytics"
	KindBacktestArtifact      EventKind = "backtest.artifact"
	KindBalanceAdjusted       EventKind = "account.balance.adjusted"
	KindBalanceSnapshot       EventKind = "account.balance.snapshot"
	KindMarginUpdated         EventKind = "account.margin.updated"
	KindTransfer              EventKind = "account.transfer"
	KindTransferRequested     EventKind = "account.transfer.requested"
)

// DomainEvent is the tagged union every append/read/stream operation moves
// through the system. Data is kept as a raw, strongly-typed-on-decode
// envelope (never an unstructured map) per the "dynamic event payloads"
// design note: callers decode it with DecodeData into the concrete payload
// struct registered for Type.
type DomainEvent struct {
	ID       string            `json:"id"`
	Type     EventKind         `json:"type"`
	Ts       int64             `json:"ts"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Data     json.RawMessage   `json:"data"`
}

// NewEvent builds a DomainEvent with a fresh id, marshaling payload with the
// fast segmentio/encoding/json codec used at every serialization boundary.
func NewEvent(kind EventKind, ts int64, payload any, metadata map[string]string) (DomainEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("domain.NewEvent: marshal %s payload: %w", kind, err)
	}
	return DomainEvent{
		ID:       NewID(),
		Type:     kind,
		Ts:       ts,
		Metadata: metadata,
		Data:     raw,
	}, nil
}

// DecodeData unmarshals e.Data into out, which must be a pointer to the
// payload type registered for e.Type.
func (e DomainEvent) DecodeData(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("domain.DomainEvent.DecodeData: %s: %w", e.Type, err)
	}
	return nil
}

// Validate checks the event's envelope and, where a validator is
// registered, its payload shape. An invalid event fails the whole append
// batch it belongs to.
func (e DomainEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("domain.DomainEvent: id is required")
	}
	if e.Ts <= 0 {
		return fmt.Errorf("domain.DomainEvent: ts must be positive")
	}
	validate, ok := payloadValidators[e.Type]
	if !ok {
		return fmt.Errorf("domain.DomainEvent: unknown event kind %q", e.Type)
	}
	if err := validate(e.Data); err != nil {
		return fmt.Errorf("domain.DomainEvent: %s: %w", e.Type, err)
	}
	return nil
}

type payloadValidator func(json.RawMessage) error

func decodeAndValidate[T interface{ Validate() error }](raw json.RawMessage) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return v.Validate()
}

var payloadValidators = map[EventKind]payloadValidator{
	KindMarketTick:        decodeAndValidate[MarketTick],
	KindMarketBar:         decodeAndValidate[MarketBar],
	KindStrategySignal:    decodeAndValidate[StrategySignal],
	KindStrategyIntent:    decodeAndValidate[OrderNew],
	KindRiskCheck:         decodeAndValidate[RiskCheckPayload],
	KindOrderNew:          decodeAndValidate[OrderNew],
	KindOrderAck:          decodeAndValidate[OrderAckPayload],
	KindOrderReject:       decodeAndValidate[OrderRejectPayload],
	KindOrderCancel:       decodeAndValidate[OrderCancelPayload],
	KindOrderFill:         decodeAndValidate[Fill],
	KindPortfolioSnapshot: decodeAndValidate[PortfolioSnapshot],
	KindPositionMark:      decodeAndValidate[PositionMark],
	KindSentimentUpdate:   decodeAndValidate[SentimentUpdate],
	KindPnLAnalytics:      decodeAndValidate[PnLAnalytics],
	KindBacktestArtifact:  decodeAndValidate[BacktestArtifact],
	KindBalanceAdjusted:   decodeAndValidate[BalanceAdjusted],
	KindBalanceSnapshot:   decodeAndValidate[BalanceSnapshotPayload],
	KindMarginUpdated:     decodeAndValidate[MarginSummary],
	KindTransfer:          decodeAndValidate[Transfer],
	KindTransferRequested: decodeAndValidate[TransferRequested],
}

// MarketBar is an OHLCV aggregate over a fixed interval.
type MarketBar struct {
	Symbol    string  `json:"symbol"`
	T         int64   `json:"t"`
	IntervalMs int64  `json:"intervalMs"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (b MarketBar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if b.IntervalMs <= 0 {
		return fmt.Errorf("intervalMs must be positive")
	}
	return nil
}

// StrategyAction is the directional call a strategy emits.
type StrategyAction string

const (
	ActionBuy  StrategyAction = "BUY"
	ActionSell StrategyAction = "SELL"
)

// StrategySignal is the output of a strategy's stream, not yet shaped into
// an order.
type StrategySignal struct {
	StrategyID string         `json:"strategyId,omitempty"`
	Symbol     string         `json:"symbol"`
	Action     StrategyAction `json:"action"`
	Px         float64        `json:"px"`
	T          int64          `json:"t"`
}

func (s StrategySignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("action must be BUY or SELL")
	}
	if s.Px <= 0 {
		return fmt.Errorf("px must be positive")
	}
	return nil
}

// RiskCheckPayload records a pre-trade risk decision for audit/replay.
type RiskCheckPayload struct {
	OrderID string   `json:"orderId"`
	Symbol  string   `json:"symbol"`
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

func (r RiskCheckPayload) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return nil
}

// OrderAckPayload records that an execution adapter accepted an order.
type OrderAckPayload struct {
	OrderID     string `json:"orderId"`
	ExchangeRef string `json:"exchangeRef,omitempty"`
	T           int64  `json:"t"`
}

func (p OrderAckPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return nil
}

// OrderRejectPayload records that an order was refused, by risk or by the
// execution adapter.
type OrderRejectPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	T       int64  `json:"t"`
}

func (p OrderRejectPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	if p.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

// OrderCancelPayload records a cancel request or confirmation.
type OrderCancelPayload struct {
	OrderID string `json:"orderId"`
	T       int64  `json:"t"`
}

func (p OrderCancelPayload) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return nil
}

// PositionState is a single symbol's entry in the Positions projection.
type PositionState struct {
	Symbol         string  `json:"symbol"`
	Pos            float64 `json:"pos"`
	AvgPx          float64 `json:"avgPx"`
	Mark           float64 `json:"mark"`
	GrossRealized  float64 `json:"grossRealized"`
	FeesPaid       float64 `json:"feesPaid"`
}

// NetRealized is grossRealized minus feesPaid, the only realized PnL figure
// the Positions projection reports.
func (p PositionState) NetRealized() float64 {
	return p.GrossRealized - p.FeesPaid
}

// PortfolioSnapshot is a full fold of every tracked symbol's position
// state, emitted periodically and replayed to rebuild the Positions
// projection.
type PortfolioSnapshot struct {
	T         int64                     `json:"t"`
	Positions map[string]PositionState  `json:"positions"`
}

func (p PortfolioSnapshot) Validate() error {
	if p.T <= 0 {
		return fmt.Errorf("t must be positive")
	}
	return nil
}

// PositionMark updates the mark price for a symbol without touching
// realized PnL or average entry.
type PositionMark struct {
	Symbol string  `json:"symbol"`
	Mark   float64 `json:"mark"`
	T      int64   `json:"t"`
}

func (p PositionMark) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	return nil
}

// SentimentUpdate carries an out-of-band signal (e.g. external feed) used
// by strategies that blend sentiment into their decision.
type SentimentUpdate struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
	T      int64   `json:"t"`
}

func (s SentimentUpdate) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	return nil
}

// PnLAnalytics is the latest PnL snapshot the PnL projection mirrors.
type PnLAnalytics struct {
	T             int64   `json:"t"`
	NAV           float64 `json:"nav"`
	GrossRealized float64 `json:"grossRealized"`
	FeesPaid      float64 `json:"feesPaid"`
	Unrealized    float64 `json:"unrealized"`
}

func (p PnLAnalytics) Validate() error {
	if p.T <= 0 {
		return fmt.Errorf("t must be positive")
	}
	return nil
}

// NetRealized mirrors PositionState's resolution of the open question: the
// only realized figure ever reported is net of fees.
func (p PnLAnalytics) NetRealized() float64 {
	return p.GrossRealized - p.FeesPaid
}

// BacktestArtifact records a harness-level output (e.g. the final stats
// summary) as a log entry so it replays alongside the run it describes.
type BacktestArtifact struct {
	T     int64          `json:"t"`
	Kind  string         `json:"kind"`
	Stats map[string]any `json:"stats,omitempty"`
}

func (b BacktestArtifact) Validate() error {
	if b.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// BalanceAdjusted is a ledger delta applied to venue/asset balances. When
// NewTotal is present, the Balances reducer cross-checks it against
// existing.total+delta within 1e-6 and fails the reducer on mismatch.
type BalanceAdjusted struct {
	Venue       string  `json:"venue"`
	Asset       string  `json:"asset"`
	Delta       float64 `json:"delta"`
	NewTotal    float64 `json:"newTotal,omitempty"`
	HasNewTotal bool    `json:"hasNewTotal"`
	T           int64   `json:"t"`
	Reason      string  `json:"reason,omitempty"`
}

func (b BalanceAdjusted) Validate() error {
	if b.Venue == "" || b.Asset == "" {
		return fmt.Errorf("venue and asset are required")
	}
	return nil
}

// BalanceSnapshotPayload records a venue-reported balance alongside the
// ledger's own total, so the Balance snapshots projection can surface
// drift between the two.
type BalanceSnapshotPayload struct {
	Venue          string  `json:"venue"`
	Asset          string  `json:"asset"`
	ProviderTotal  float64 `json:"providerTotal"`
	LedgerTotal    float64 `json:"ledgerTotal"`
	T              int64   `json:"t"`
}

func (b BalanceSnapshotPayload) Validate() error {
	if b.Venue == "" || b.Asset == "" {
		return fmt.Errorf("venue and asset are required")
	}
	return nil
}

// Drift is the absolute difference between the venue-reported total and
// the ledger's own total.
func (b BalanceSnapshotPayload) Drift() float64 {
	d := b.ProviderTotal - b.LedgerTotal
	if d < 0 {
		return -d
	}
	return d
}

// MarginSummary is a venue's margin/leverage state, mirrored by the Margin
// projection.
type MarginSummary struct {
	Venue          string  `json:"venue"`
	MaintenanceReq float64 `json:"maintenanceReq"`
	InitialReq     float64 `json:"initialReq"`
	Equity         float64 `json:"equity"`
	Leverage       float64 `json:"leverage"`
	T              int64   `json:"t"`
}

func (m MarginSummary) Validate() error {
	if m.Venue == "" {
		return fmt.Errorf("venue is required")
	}
	return nil
}

// Transfer records a completed movement of funds between venues/accounts.
type Transfer struct {
	ID        string  `json:"id"`
	FromVenue string  `json:"fromVenue"`
	ToVenue   string  `json:"toVenue"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	T         int64   `json:"t"`
}

func (t Transfer) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// TransferRequested records a transfer request before it settles.
type TransferRequested struct {
	ID        string  `json:"id"`
	FromVenue string  `json:"fromVenue"`
	ToVenue   string  `json:"toVenue"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	T         int64   `json:"t"`
}

func (t TransferRequested) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}
