// Package paperexec is the deterministic, in-process
// ports.ExecutionAdapter the backtest harness and any paper-trading run
// use in place of a venue connection: Submit acks and fills immediately
// against a tracked last-price map (or meta.execRefPx, or the order's
// own limit price), with no network hop to await.
package paperexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// Adapter fills every order immediately at a reference price resolved in
// this order: order.Meta["execRefPx"], the order's own Px if HasPx is set
// (for any order type; the price is not checked against the book), else
// the last tick price recorded via OnTick.
type Adapter struct {
	id      string
	clock   ports.Clock
	feeBps  float64
	events  chan ports.ExecutionEvent

	mu   sync.Mutex
	last map[string]float64
}

// New builds a paper Adapter. feeBps is charged on notional for every
// fill, as a round-number approximation of taker fees.
func New(id string, clock ports.Clock, feeBps float64) *Adapter {
	return &Adapter{
		id:     id,
		clock:  clock,
		feeBps: feeBps,
		events: make(chan ports.ExecutionEvent, 4096),
		last:   make(map[string]float64),
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Events() <-chan ports.ExecutionEvent { return a.events }

// OnTick records symbol's latest traded price, the backtest harness's
// replay loop's hook into this adapter.
func (a *Adapter) OnTick(symbol string, last float64) {
	if last <= 0 {
		return
	}
	a.mu.Lock()
	a.last[symbol] = last
	a.mu.Unlock()
}

// Submit immediately acks and fills order at the resolved reference
// price, publishing both events synchronously before returning.
func (a *Adapter) Submit(ctx context.Context, order domain.OrderNew) error {
	px, err := a.referencePrice(order)
	if err != nil {
		ts := a.clock.Now().UnixMilli()
		a.publish(ports.ExecutionEvent{
			Kind: ports.ExecReject, OrderID: order.ID,
			Reject: &domain.OrderRejectPayload{OrderID: order.ID, Reason: err.Error(), T: ts},
		})
		return nil
	}

	ts := a.clock.Now().UnixMilli()
	a.publish(ports.ExecutionEvent{
		Kind: ports.ExecAck, OrderID: order.ID,
		Ack: &domain.OrderAckPayload{OrderID: order.ID, ExchangeRef: "paper-" + order.ID, T: ts},
	})

	fee := order.Qty * px * (a.feeBps / 10000)
	a.publish(ports.ExecutionEvent{
		Kind: ports.ExecFill, OrderID: order.ID,
		Fill: &domain.Fill{
			ID: "fill-" + order.ID, OrderID: order.ID, T: ts, Symbol: order.Symbol,
			Px: px, Qty: order.Qty, Side: order.Side, Fee: fee, Liquidity: domain.LiquidityTaker,
		},
	})
	return nil
}

// Cancel publishes an order.cancel event for orderID and returns nil. Paper
// fills are synchronous in Submit, so no order is left in flight for the
// cancel to stop.
func (a *Adapter) Cancel(ctx context.Context, orderID string) error {
	ts := a.clock.Now().UnixMilli()
	a.publish(ports.ExecutionEvent{
		Kind: ports.ExecCancel, OrderID: orderID,
		Cancel: &domain.OrderCancelPayload{OrderID: orderID, T: ts},
	})
	return nil
}

func (a *Adapter) referencePrice(order domain.OrderNew) (float64, error) {
	if v, ok := order.MetaFloat("execRefPx"); ok && v > 0 {
		return v, nil
	}
	if order.HasPx && order.Px > 0 {
		return order.Px, nil
	}
	a.mu.Lock()
	px, ok := a.last[order.Symbol]
	a.mu.Unlock()
	if !ok || px <= 0 {
		return 0, fmt.Errorf("paperexec: no reference price available for %s", order.Symbol)
	}
	return px, nil
}

func (a *Adapter) publish(ev ports.ExecutionEvent) {
	select {
	case a.events <- ev:
	default:
	}
}
