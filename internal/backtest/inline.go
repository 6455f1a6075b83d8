package backtest

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// inlineAppender bypasses the shared-memory queue entirely, appending
// directly to the event store. It satisfies both
// execution.EventAppender and any other narrow single-method Append
// consumer by structural typing.
type inlineAppender struct {
	ctx   context.Context
	store ports.EventStore
}

func newInlineAppender(ctx context.Context, store ports.EventStore) *inlineAppender {
	return &inlineAppender{ctx: ctx, store: store}
}

// Append persists e synchronously and in order, preserving the
// ordering-preserving-direct-append guarantee the harness's determinism
// contract relies on.
func (a *inlineAppender) Append(e domain.DomainEvent) error {
	return a.store.Append(a.ctx, e)
}
