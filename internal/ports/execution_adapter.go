package ports

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// ExecutionEventKind narrows domain.EventKind to the subset an
// ExecutionAdapter emits.
type ExecutionEventKind string

const (
	ExecAck    ExecutionEventKind = "order.ack"
	ExecFill   ExecutionEventKind = "order.fill"
	ExecReject ExecutionEventKind = "order.reject"
	ExecCancel ExecutionEventKind = "order.cancel"
)

// ExecutionEvent is what an ExecutionAdapter publishes on its Events()
// stream; the policy wrapper appends each one to the event store.
type ExecutionEvent struct {
	Kind    ExecutionEventKind
	OrderID string
	Ack     *domain.OrderAckPayload
	Fill    *domain.Fill
	Reject  *domain.OrderRejectPayload
	Cancel  *domain.OrderCancelPayload
}

// ExecutionAdapter is the narrow contract every venue execution path
// implements: paper, live REST, or the deterministic backtest paper
// adapter. Retries and circuit breaking live one layer up, in
// execution.Policy — adapters themselves just attempt the call and report
// whether the failure is retryable.
type ExecutionAdapter interface {
	ID() string
	Submit(ctx context.Context, order domain.OrderNew) error
	Cancel(ctx context.Context, orderID string) error
	Events() <-chan ExecutionEvent
}

// Retryable is the error contract adapters use to tell the policy wrapper
// whether a failure should be retried (TransientIO) or surfaced as fatal
// (FatalIO): HTTP 5xx/429 are retryable, 4xx (other than 429) are not.
type Retryable interface {
	error
	Retryable() bool
}
