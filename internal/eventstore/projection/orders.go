package projection

import (
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// OrderView is the lifecycle state of one order as observed through the
// event log, used by the reconciliation loop and reporting.
type OrderView struct {
	OrderID     string
	Symbol      string
	Submitted   bool
	Acked       bool
	Rejected    bool
	Canceled    bool
	RejectReason string
	FilledQty   float64
	Fills       []domain.Fill
	SubmitTs    int64
	AckTs       int64
}

// Orders folds order.new/ack/reject/cancel/fill events into a per-order
// lifecycle view.
type Orders struct {
	mu   sync.RWMutex
	byID map[string]*OrderView
}

// NewOrders returns an empty Orders projection.
func NewOrders() *Orders {
	return &Orders{byID: make(map[string]*OrderView)}
}

// Get returns a copy of the view for orderID, or nil if unseen.
func (o *Orders) Get(orderID string) *OrderView {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.byID[orderID]
	if !ok {
		return nil
	}
	return v.clone()
}

// All returns a copy of every tracked order view.
func (o *Orders) All() []*OrderView {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*OrderView, 0, len(o.byID))
	for _, v := range o.byID {
		out = append(out, v.clone())
	}
	return out
}

func (v *OrderView) clone() *OrderView {
	cp := *v
	cp.Fills = append([]domain.Fill(nil), v.Fills...)
	return &cp
}

func (o *Orders) view(id string) *OrderView {
	v, ok := o.byID[id]
	if !ok {
		v = &OrderView{OrderID: id}
		o.byID[id] = v
	}
	return v
}

// Apply folds one event into the Orders projection.
func (o *Orders) Apply(e domain.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch e.Type {
	case domain.KindOrderNew, domain.KindStrategyIntent:
		var order domain.OrderNew
		if err := e.DecodeData(&order); err != nil {
			return err
		}
		v := o.view(order.ID)
		v.Symbol = order.Symbol
		v.Submitted = true
		v.SubmitTs = order.T
	case domain.KindOrderAck:
		var ack domain.OrderAckPayload
		if err := e.DecodeData(&ack); err != nil {
			return err
		}
		v := o.view(ack.OrderID)
		v.Acked = true
		v.AckTs = ack.T
	case domain.KindOrderReject:
		var rej domain.OrderRejectPayload
		if err := e.DecodeData(&rej); err != nil {
			return err
		}
		v := o.view(rej.OrderID)
		v.Rejected = true
		v.RejectReason = rej.Reason
	case domain.KindOrderCancel:
		var cancel domain.OrderCancelPayload
		if err := e.DecodeData(&cancel); err != nil {
			return err
		}
		v := o.view(cancel.OrderID)
		v.Canceled = true
	case domain.KindOrderFill:
		var fill domain.Fill
		if err := e.DecodeData(&fill); err != nil {
			return err
		}
		v := o.view(fill.OrderID)
		v.FilledQty += fill.Qty
		v.Fills = append(v.Fills, fill)
	}
	return nil
}

// FoldOrders rebuilds an Orders projection from a full event slice.
func FoldOrders(events []domain.DomainEvent) (*Orders, error) {
	o := NewOrders()
	for _, e := range events {
		if err := o.Apply(e); err != nil {
			return nil, err
		}
	}
	return o, nil
}
