package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// ReconnectConfig describes an adapter's exponential-backoff-with-jitter
// reconnect schedule. The Manager reads only Base (to build a per-adapter
// rate limiter); reconnecting itself happens inside the adapter.
type ReconnectConfig struct {
	Base       time.Duration
	Max        time.Duration
	Jitter     float64
	MaxAttempts int // 0 = unbounded
}

// Manager multiplexes N FeedAdapters into a single merge-by-arrival tick
// stream, one pump goroutine per adapter.
type Manager struct {
	log     *slog.Logger
	marks   chan domain.MarketTick
	health  *healthTracker
	limiter map[string]*rate.Limiter

	mu       sync.Mutex
	adapters map[string]ports.FeedAdapter
	cancels  map[string]context.CancelFunc
}

// NewManager builds an empty Manager; adapters are registered with
// Register before Start.
func NewManager(log *slog.Logger, bufferSize int) *Manager {
	return &Manager{
		log:      log.With("component", "feed_manager"),
		marks:    make(chan domain.MarketTick, bufferSize),
		health:   newHealthTracker(),
		limiter:  make(map[string]*rate.Limiter),
		adapters: make(map[string]ports.FeedAdapter),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Marks is the normalized, merge-by-arrival tick stream.
func (m *Manager) Marks() <-chan domain.MarketTick { return m.marks }

// Health returns the tracked health for a registered adapter id.
func (m *Manager) Health(id string) Health { return m.health.Get(id) }

// AllHealth returns tracked health for every registered adapter.
func (m *Manager) AllHealth() map[string]Health { return m.health.All() }

// Register adds adapter to the manager and wires its lifecycle hooks into
// health tracking. Must be called before Start.
func (m *Manager) Register(adapter ports.FeedAdapter, rc ReconnectConfig) {
	id := adapter.ID()

	m.mu.Lock()
	m.adapters[id] = adapter
	// A limiter of one event per base interval is kept per adapter; the
	// Manager does not consult it, so it does not pace reconnects.
	m.limiter[id] = rate.NewLimiter(rate.Every(rc.Base), 1)
	m.mu.Unlock()

	adapter.SetLifecycleHooks(ports.FeedLifecycleHooks{
		OnStatusChange: func(s ports.FeedStatus) { m.health.setStatus(id, s) },
		OnReconnect:    func(attempt int) { m.health.recordReconnect(id) },
		OnTick:         func(ts int64) { m.health.recordTick(id, time.UnixMilli(ts)) },
	})
}

// Start connects every registered adapter and fans its ticks into Marks().
// Each adapter gets its own goroutine so one feed's reconnect loop never
// blocks another's delivery.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, adapter := range m.adapters {
		adapterCtx, cancel := context.WithCancel(ctx)
		m.cancels[id] = cancel

		if err := adapter.Connect(adapterCtx); err != nil {
			m.log.Error("initial connect failed", "feed", id, "error", err)
		}
		go m.pump(adapterCtx, adapter)
	}
	return nil
}

func (m *Manager) pump(ctx context.Context, adapter ports.FeedAdapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-adapter.Ticks():
			if !ok {
				return
			}
			select {
			case m.marks <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop disconnects every adapter, stopping reconnection attempts.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, adapter := range m.adapters {
		if err := adapter.Disconnect(); err != nil {
			m.log.Warn("disconnect error", "feed", id, "error", err)
		}
		if cancel, ok := m.cancels[id]; ok {
			cancel()
		}
	}
}
