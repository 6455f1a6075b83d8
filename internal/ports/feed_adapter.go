package ports

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// FeedStatus is the connection state a FeedAdapter reports through its
// lifecycle hooks.
type FeedStatus string

const (
	FeedConnecting   FeedStatus = "connecting"
	FeedConnected    FeedStatus = "connected"
	FeedDisconnected FeedStatus = "disconnected"
)

// FeedLifecycleHooks lets a FeedManager observe a FeedAdapter's internal
// state transitions without the adapter depending on the manager.
type FeedLifecycleHooks struct {
	OnStatusChange func(FeedStatus)
	OnReconnect    func(attempt int)
	OnTick         func(timestampMs int64)
}

// FeedAdapter is the narrow contract every tick source implements: a live
// venue websocket, or the historical push-adapter a backtest uses. The
// engine never depends on a venue's wire format directly — only on this
// interface.
type FeedAdapter interface {
	ID() string

	// Connect starts delivering ticks on Ticks() and returns once the
	// initial connection attempt has been made (not necessarily
	// succeeded); reconnection happens internally per spec.
	Connect(ctx context.Context) error

	// Disconnect stops reconnection attempts and closes the tick stream.
	// Optional: adapters that never reconnect (e.g. a historical feed)
	// may implement it as a no-op.
	Disconnect() error

	// Ticks is the normalized tick stream. Closed when the adapter is
	// disconnected or its context is cancelled.
	Ticks() <-chan domain.MarketTick

	// SetLifecycleHooks installs (or replaces) the hooks used for health
	// tracking. Optional.
	SetLifecycleHooks(hooks FeedLifecycleHooks)
}
