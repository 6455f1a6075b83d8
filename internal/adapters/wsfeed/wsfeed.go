// Package wsfeed is a reference ports.FeedAdapter over a venue-agnostic
// newline-delimited JSON tick stream: auto-reconnect with backoff,
// read-deadline-triggered disconnect detection, channel-routed dispatch.
// It speaks one schema — {symbol, t, bid, ask, last, hasBid, hasAsk,
// hasLast, bidSize, askSize} per text message — rather than any specific
// venue's wire protocol. A price counts only when its has* flag is true;
// bidSize/askSize are decoded but not carried into domain.MarketTick.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/feed"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

const (
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// wireTick is the newline-delimited JSON message shape this adapter reads.
type wireTick struct {
	Symbol  string  `json:"symbol"`
	T       int64   `json:"t"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Last    float64 `json:"last"`
	HasBid  bool    `json:"hasBid"`
	HasAsk  bool    `json:"hasAsk"`
	HasLast bool    `json:"hasLast"`
	BidSize float64 `json:"bidSize"`
	AskSize float64 `json:"askSize"`
}

// Adapter is a gorilla/websocket-backed ports.FeedAdapter with its own
// reconnect loop; Disconnect stops reconnection for good.
type Adapter struct {
	id     string
	url    string
	clock  ports.Clock
	log    *slog.Logger

	reconnectBase   time.Duration
	reconnectMax    time.Duration
	reconnectJitter float64
	maxAttempts     int

	ticks  chan domain.MarketTick
	hooks  ports.FeedLifecycleHooks
	hooksMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Adapter for the given websocket URL.
func New(id, url string, clock ports.Clock, log *slog.Logger) *Adapter {
	return &Adapter{
		id:              id,
		url:             url,
		clock:           clock,
		log:             log.With("component", "wsfeed", "feed_id", id),
		reconnectBase:   500 * time.Millisecond,
		reconnectMax:    30 * time.Second,
		reconnectJitter: 0.2,
		ticks:           make(chan domain.MarketTick, 1024),
	}
}

// WithReconnectPolicy overrides the default backoff parameters.
func (a *Adapter) WithReconnectPolicy(base, max time.Duration, jitter float64, maxAttempts int) *Adapter {
	a.reconnectBase = base
	a.reconnectMax = max
	a.reconnectJitter = jitter
	a.maxAttempts = maxAttempts
	return a
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Ticks() <-chan domain.MarketTick { return a.ticks }

func (a *Adapter) SetLifecycleHooks(hooks ports.FeedLifecycleHooks) {
	a.hooksMu.Lock()
	a.hooks = hooks
	a.hooksMu.Unlock()
}

// Connect starts the reconnect loop in its own goroutine and returns
// immediately; the loop keeps retrying with backoff until Disconnect is
// called or maxAttempts is exhausted.
func (a *Adapter) Connect(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.setStatus(ports.FeedConnecting)
	go a.reconnectLoop(loopCtx)
	return nil
}

// Disconnect stops reconnection attempts and closes the tick stream.
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
	return nil
}

func (a *Adapter) reconnectLoop(ctx context.Context) {
	defer close(a.done)
	defer close(a.ticks)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		a.log.Warn("websocket disconnected, reconnecting", "error", err, "attempt", attempt)
		a.setStatus(ports.FeedDisconnected)
		a.notifyReconnect(attempt)

		if a.maxAttempts > 0 && attempt+1 >= a.maxAttempts {
			a.log.Error("exhausted reconnect attempts, giving up", "max_attempts", a.maxAttempts)
			return
		}

		delay := feed.BackoffDelay(a.reconnectBase, a.reconnectMax, attempt, a.reconnectJitter)
		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(delay):
		}
	}
}

func (a *Adapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("wsfeed: dial: %w", err)
	}
	defer conn.Close()

	a.setStatus(ports.FeedConnected)
	a.log.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("wsfeed: read: %w", err)
		}
		a.dispatch(msg)
	}
}

func (a *Adapter) dispatch(msg []byte) {
	var w wireTick
	if err := json.Unmarshal(msg, &w); err != nil {
		a.log.Debug("ignoring non-json message", "error", err)
		return
	}

	tick, err := domain.NewMarketTick(w.T, w.Symbol, w.Bid, w.Ask, w.Last, w.HasBid, w.HasAsk, w.HasLast)
	if err != nil {
		a.log.Warn("dropping invalid tick", "error", err)
		return
	}

	select {
	case a.ticks <- tick:
	default:
		a.log.Warn("tick channel full, dropping tick", "symbol", w.Symbol)
	}
	a.notifyTick(w.T)
}

func (a *Adapter) setStatus(s ports.FeedStatus) {
	a.hooksMu.Lock()
	hook := a.hooks.OnStatusChange
	a.hooksMu.Unlock()
	if hook != nil {
		hook(s)
	}
}

func (a *Adapter) notifyReconnect(attempt int) {
	a.hooksMu.Lock()
	hook := a.hooks.OnReconnect
	a.hooksMu.Unlock()
	if hook != nil {
		hook(attempt)
	}
}

func (a *Adapter) notifyTick(ts int64) {
	a.hooksMu.Lock()
	hook := a.hooks.OnTick
	a.hooksMu.Unlock()
	if hook != nil {
		hook(ts)
	}
}
