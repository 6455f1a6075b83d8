// Package histfeed is the historical ports.FeedAdapter the backtest
// harness drives: it never reconnects, and ticks are pushed into it one
// at a time by the replay loop rather than read off a live socket. Its
// shape mirrors wsfeed.Adapter's ID/Ticks/lifecycle-hook
// surface so the rest of the pipeline (feed.Manager, strategies) cannot
// tell it apart from a live adapter.
package histfeed

import (
	"context"
	"sync"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// Adapter is a push-driven FeedAdapter with no reconnect logic: Connect
// and Disconnect only open and close the Ticks() channel.
type Adapter struct {
	id    string
	ticks chan domain.MarketTick

	hooksMu sync.Mutex
	hooks   ports.FeedLifecycleHooks

	closeOnce sync.Once
}

// New builds a historical Adapter. bufSize sizes the internal channel;
// once bufSize ticks are buffered and unread, PushTick blocks until a
// reader takes one.
func New(id string, bufSize int) *Adapter {
	return &Adapter{id: id, ticks: make(chan domain.MarketTick, bufSize)}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Ticks() <-chan domain.MarketTick { return a.ticks }

func (a *Adapter) SetLifecycleHooks(hooks ports.FeedLifecycleHooks) {
	a.hooksMu.Lock()
	a.hooks = hooks
	a.hooksMu.Unlock()
}

// Connect reports FeedConnected immediately; there is no handshake.
func (a *Adapter) Connect(ctx context.Context) error {
	a.setStatus(ports.FeedConnected)
	return nil
}

// Disconnect closes the tick stream. Safe to call once.
func (a *Adapter) Disconnect() error {
	a.closeOnce.Do(func() {
		a.setStatus(ports.FeedDisconnected)
		close(a.ticks)
	})
	return nil
}

// PushTick sends tick on the buffered Ticks() channel (blocking only when
// the buffer is full), then runs the OnTick hook. The replay loop calls it
// in timestamp order.
func (a *Adapter) PushTick(tick domain.MarketTick) {
	a.ticks <- tick
	a.hooksMu.Lock()
	hook := a.hooks.OnTick
	a.hooksMu.Unlock()
	if hook != nil {
		hook(tick.T)
	}
}

func (a *Adapter) setStatus(s ports.FeedStatus) {
	a.hooksMu.Lock()
	hook := a.hooks.OnStatusChange
	a.hooksMu.Unlock()
	if hook != nil {
		hook(s)
	}
}
