// Package engine wires the reactive pipeline into one running process:
// feeds → strategies → intent builder → risk → execution → exit, with
// every stage's events draining through the shared-memory queue into the
// event store, and projections folded live off the store's broadcast
// stream.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/tradeflow/internal/adapters/histfeed"
	"github.com/alejandrodnm/tradeflow/internal/adapters/paperexec"
	"github.com/alejandrodnm/tradeflow/internal/adapters/restexec"
	"github.com/alejandrodnm/tradeflow/internal/adapters/wsfeed"
	"github.com/alejandrodnm/tradeflow/internal/clock"
	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/eventstore"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/archive"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/duckstore"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/memstore"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/projection"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/sqlitestore"
	"github.com/alejandrodnm/tradeflow/internal/execution"
	"github.com/alejandrodnm/tradeflow/internal/exit"
	"github.com/alejandrodnm/tradeflow/internal/feed"
	"github.com/alejandrodnm/tradeflow/internal/intent"
	"github.com/alejandrodnm/tradeflow/internal/ledger"
	"github.com/alejandrodnm/tradeflow/internal/metrics"
	"github.com/alejandrodnm/tradeflow/internal/ports"
	"github.com/alejandrodnm/tradeflow/internal/queue"
	"github.com/alejandrodnm/tradeflow/internal/risk"
	"github.com/alejandrodnm/tradeflow/internal/strategy"
)

// strategyRuntime bundles one configured strategy with the per-strategy
// state the pipeline needs alongside its signal stream: its own intent
// builder (cooldown/dedupe is scoped per strategy, not shared) and cached
// config for exit-rule lookups.
type strategyRuntime struct {
	cfg     config.StrategyConfig
	builder *intent.Builder
	signals <-chan domain.StrategySignal
}

// Engine owns every process-wide collaborator, constructed once by the
// bootstrap and passed explicitly, never reached via package-level
// globals.
type Engine struct {
	log   *slog.Logger
	cfg   *config.Config
	clock ports.Clock

	store  ports.EventStore
	ring   *queue.RingBuffer
	worker *queue.PersistenceWorker

	feedMgr     *feed.Manager
	adapterTick map[string]<-chan domain.MarketTick
	registry    *strategy.Registry

	ledger      *ledger.Ledger
	riskEngine  *risk.Engine
	execAdapter ports.ExecutionAdapter
	policy      *execution.Policy
	exitEngine  *exit.Engine
	metrics     ports.MetricsSink
	publisher   ports.EventPublisher

	positions *projection.Positions
	pnl       *projection.PnL
	balances  *projection.Balances
	margin    *projection.Margin
	orders    *projection.Orders

	strategies map[string]*strategyRuntime

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds every collaborator from cfg but starts nothing; call Start to
// run the pipeline.
func New(cfg *config.Config, log *slog.Logger) (*Engine, error) {
	store, err := openStore(cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	m := metrics.New()
	store = eventstore.Instrument(store, cfg.Persistence.Driver, m)

	ring := queue.NewRingBuffer(cfg.Queue.Capacity, cfg.Queue.SlotSizeBytes)
	worker := queue.NewPersistenceWorker(ring, store, cfg.Queue.DequeueBatchMax,
		time.Duration(cfg.Queue.DequeueWaitMs)*time.Millisecond, m, log)

	sysClock := clock.System{}

	e := &Engine{
		log:         log.With("component", "engine"),
		cfg:         cfg,
		clock:       sysClock,
		store:       store,
		ring:        ring,
		worker:      worker,
		feedMgr:     feed.NewManager(log, 4096),
		adapterTick: make(map[string]<-chan domain.MarketTick),
		registry:    strategy.NewRegistry(),
		ledger:      ledger.New(),
		exitEngine:  exit.New(sysClock, cfg.RiskOverrides),
		metrics:     m,
		positions:   projection.NewPositions(),
		pnl:         projection.NewPnL(),
		balances:    projection.NewBalances(),
		margin:      projection.NewMargin(),
		orders:      projection.NewOrders(),
		strategies:  make(map[string]*strategyRuntime),
	}

	for venue, assets := range cfg.Account.SeedBalances {
		for asset, amount := range assets {
			e.ledger.Seed(venue, asset, decimal.NewFromFloat(amount))
		}
	}

	var accountGuard risk.AccountExposureGuard
	if len(cfg.Account.SeedBalances) > 0 {
		accountGuard = ledger.VenueGuard{Ledger: e.ledger, Venue: cfg.Account.Venue}
	}
	e.riskEngine = risk.New(cfg.Risk, sysClock, accountGuard, nil)

	if err := e.buildFeeds(); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if err := e.buildExecutionAdapter(); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}
	if err := e.buildStrategies(); err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	return e, nil
}

func openStore(pc config.PersistenceConfig) (ports.EventStore, error) {
	switch pc.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlitestore.Open(pc.DSN)
	case "duckdb":
		return duckstore.Open(pc.DSN)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", pc.Driver)
	}
}

func (e *Engine) buildFeeds() error {
	for _, fc := range e.cfg.Feeds {
		var adapter ports.FeedAdapter
		switch fc.Kind {
		case "ws":
			ws := wsfeed.New(fc.ID, fc.URL, e.clock, e.log)
			ws.WithReconnectPolicy(fc.ReconnectBase, fc.ReconnectMax, fc.ReconnectJitter, fc.MaxAttempts)
			adapter = ws
		case "historical":
			adapter = histfeed.New(fc.ID, 4096)
		default:
			return fmt.Errorf("feed %q: unknown kind %q", fc.ID, fc.Kind)
		}
		e.adapterTick[fc.ID] = adapter.Ticks()
		e.feedMgr.Register(adapter, feed.ReconnectConfig{
			Base: fc.ReconnectBase, Max: fc.ReconnectMax, Jitter: fc.ReconnectJitter, MaxAttempts: fc.MaxAttempts,
		})
	}
	return nil
}

func (e *Engine) buildExecutionAdapter() error {
	switch e.cfg.Execution.Adapter {
	case "paper":
		e.execAdapter = paperexec.New(e.cfg.Account.ID+"-paper", e.clock, e.cfg.Execution.PaperFeeBps)
	case "rest":
		e.execAdapter = restexec.New(e.cfg.Account.ID, e.cfg.Execution.BaseURL, e.log)
	default:
		return fmt.Errorf("unknown execution adapter %q", e.cfg.Execution.Adapter)
	}
	return nil
}

func (e *Engine) buildStrategies() error {
	for _, sc := range e.cfg.Strategies {
		var sources []strategy.FeedSource
		for _, id := range sc.Feeds {
			stream, ok := e.adapterTick[id]
			if !ok {
				return fmt.Errorf("strategy %q: feed %q is not configured", sc.ID, id)
			}
			sources = append(sources, strategy.FeedSource{ID: id, Stream: stream})
		}

		sctx := strategy.Context{
			TradeSymbol: sc.TradeSymbol,
			FeedSources: sources,
			Marks:       e.feedMgr.Marks(),
			CreateExternalFeed: func(feedType, symbol, idSuffix string) (<-chan domain.MarketTick, error) {
				id := feedType + ":" + symbol + idSuffix
				stream, ok := e.adapterTick[id]
				if !ok {
					return nil, fmt.Errorf("createExternalFeed: no registered feed %q", id)
				}
				return stream, nil
			},
		}

		signals, err := e.registry.Build(sc.Type, sctx, sc.Params)
		if err != nil {
			return fmt.Errorf("strategy %q: %w", sc.ID, err)
		}

		e.exitEngine.Configure(sc.TradeSymbol, sc.Exit)
		e.strategies[sc.ID] = &strategyRuntime{
			cfg:     sc,
			builder: intent.New(e.cfg.Intent),
			signals: signals,
		}
	}
	return nil
}

// Start launches every goroutine the pipeline needs: feeds, the
// persistence worker, the execution policy's event loop, the live
// projection fold, the mark-data dispatcher, and one pump per strategy.
// It returns once every stage has been launched; Stop tears them down.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	appender := queue.NewAppender(runCtx, e.worker)
	e.policy = execution.New(e.execAdapter, e.clock, appender, e.metrics, execution.Config{
		MaxAttempts:          e.cfg.Execution.Retry.MaxAttempts,
		BaseDelay:            time.Duration(e.cfg.Execution.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:             time.Duration(e.cfg.Execution.Retry.MaxDelayMs) * time.Millisecond,
		Jitter:               e.cfg.Execution.Retry.Jitter,
		FailureThreshold:     e.cfg.Execution.Circuit.FailureThreshold,
		CooldownMs:           int64(e.cfg.Execution.Circuit.CooldownMs),
		HalfOpenMaxSuccesses: e.cfg.Execution.Circuit.HalfOpenMaxSuccesses,
		AckTimeoutMs:         e.cfg.Execution.Reconciliation.AckTimeoutMs,
		FillTimeoutMs:        e.cfg.Execution.Reconciliation.FillTimeoutMs,
	}, e.log)

	if err := e.feedMgr.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("engine.Start: %w", err)
	}

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.worker.Run(runCtx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.policy.Run(runCtx) }()

	projCh, unsubscribe := e.store.Subscribe(runCtx)
	e.wg.Add(1)
	go func() { defer e.wg.Done(); defer unsubscribe(); e.foldLoop(runCtx, appender, projCh) }()

	if e.publisher != nil {
		if existing, err := e.store.Read(runCtx, 0); err == nil {
			e.publisher.PublishLogEntries(existing)
		}
	}

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.marksLoop(runCtx, appender) }()

	for id, rt := range e.strategies {
		e.wg.Add(1)
		go func(id string, rt *strategyRuntime) {
			defer e.wg.Done()
			e.signalLoop(runCtx, appender, id, rt)
		}(id, rt)
	}

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.monitorLoop(runCtx, appender) }()

	if pc := e.cfg.Persistence; pc.SnapshotIntervalMs > 0 && pc.ArchiveBucket != "" {
		shipper := archive.New(archive.NewClient(pc.ArchiveRegion, pc.ArchiveEndpoint),
			pc.ArchiveBucket, pc.ArchivePrefix, pc.SnapshotInterval())
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			err := shipper.Run(runCtx, func(ctx context.Context) (ports.Snapshot, error) {
				return eventstore.CreateSnapshot(ctx, e.store, e.snapshotState)
			})
			if err != nil {
				e.log.Error("snapshot archiver stopped", "error", err)
			}
		}()
	}

	return nil
}

// snapshotState folds the log into the state a shipped snapshot carries:
// the final per-symbol positions and the latest PnL point.
func (e *Engine) snapshotState(events []domain.DomainEvent) (any, error) {
	pos, err := projection.Fold(events)
	if err != nil {
		return nil, err
	}
	pnl, err := projection.FoldPnL(events)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"positions": pos.All(),
		"pnl":       pnl.Latest(),
	}, nil
}

// monitorDepthInterval is how often monitorLoop samples queue depth, feed
// health, and NAV into gauges and checks the high/low watermark.
const monitorDepthInterval = time.Second

// monitorLoop periodically publishes the persistence_queue_depth,
// portfolio_nav, feed_status, and feed_last_tick_age_seconds gauges,
// emits a pnl.analytics event whenever the book's marked equity has
// moved since the last sample, and maintains the queue watermark log: a
// warning once depth reaches Queue.HighWatermark of capacity, cleared
// once it falls back to Queue.LowWatermark.
func (e *Engine) monitorLoop(ctx context.Context, appender *queue.Appender) {
	ticker := time.NewTicker(monitorDepthInterval)
	defer ticker.Stop()

	highWatermarkActive := false
	var lastNAV float64
	navSeen := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitPnL(appender, &lastNAV, &navSeen)
			depth := e.ring.Size()
			if e.metrics != nil {
				e.metrics.SetGauge("persistence_queue_depth", nil, float64(depth))
				e.metrics.SetGauge("event_store_subscriber_drops", nil, float64(e.store.SubscriberDrops()))
				e.metrics.SetGauge("portfolio_nav", nil, e.pnl.Latest().NAV)
				for id, h := range e.feedMgr.AllHealth() {
					e.metrics.SetGauge("feed_status", map[string]string{"feed": id}, feedStatusValue(h.Status))
					if !h.LastTickAt.IsZero() {
						age := e.clock.Now().Sub(h.LastTickAt).Seconds()
						e.metrics.SetGauge("feed_last_tick_age_seconds", map[string]string{"feed": id}, age)
					}
				}
			}

			switch {
			case !highWatermarkActive && e.ring.HighWatermark(e.cfg.Queue.HighWatermark):
				highWatermarkActive = true
				e.log.Warn("persistence queue depth at high watermark",
					"depth", depth, "capacity", e.cfg.Queue.Capacity, "high_watermark", e.cfg.Queue.HighWatermark)
			case highWatermarkActive && !e.ring.HighWatermark(e.cfg.Queue.LowWatermark):
				highWatermarkActive = false
				e.log.Info("persistence queue depth back below low watermark",
					"depth", depth, "capacity", e.cfg.Queue.Capacity, "low_watermark", e.cfg.Queue.LowWatermark)
			}
		}
	}
}

// emitPnL folds the positions projection into a pnl.analytics event: NAV
// is the run's marked trading equity (net realized plus mark-to-market on
// every open position), the series the portfolio_nav gauge and the
// drawdown risk override consume. An event is only appended when the
// value has moved since the last sample, so an idle book does not fill
// the log with identical analytics points.
func (e *Engine) emitPnL(appender *queue.Appender, lastNAV *float64, navSeen *bool) {
	var gross, fees, unrealized float64
	for _, ps := range e.positions.All() {
		gross += ps.GrossRealized
		fees += ps.FeesPaid
		if ps.Pos != 0 && ps.Mark > 0 {
			unrealized += (ps.Mark - ps.AvgPx) * ps.Pos
		}
	}
	nav := gross - fees + unrealized
	if *navSeen && nav == *lastNAV {
		return
	}
	*lastNAV = nav
	*navSeen = true

	now := e.clock.Now().UnixMilli()
	payload := domain.PnLAnalytics{T: now, NAV: nav, GrossRealized: gross, FeesPaid: fees, Unrealized: unrealized}
	evt, err := domain.NewEvent(domain.KindPnLAnalytics, now, payload, nil)
	if err != nil {
		return
	}
	if err := appender.Append(evt); err != nil {
		e.log.Error("failed to persist pnl analytics", "error", err)
	}
}

// feedStatusValue maps a ports.FeedStatus to the feed_status gauge's
// numeric encoding: disconnected=0, connecting=1, connected=2.
func feedStatusValue(status ports.FeedStatus) float64 {
	switch status {
	case ports.FeedConnecting:
		return 1
	case ports.FeedConnected:
		return 2
	default:
		return 0
	}
}

// Stop cancels every running stage, disconnects feeds, and waits for the
// persistence worker to drain within the configured shutdown timeout.
func (e *Engine) Stop() {
	e.feedMgr.Stop()
	e.ring.Shutdown()
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(e.cfg.Persistence.ShutdownTimeout()):
		e.log.Warn("worker shutdown timed out, force-terminating")
	}

	if err := e.store.Close(); err != nil {
		e.log.Warn("error closing event store", "error", err)
	}
}

// SetKillSwitch forwards the control plane's kill switch to pre-trade
// risk: non-exit intents are refused while engaged, without tearing the
// pipeline down.
func (e *Engine) SetKillSwitch(on bool) { e.riskEngine.SetKillSwitch(on) }

// SetEventPublisher attaches the control plane's event publisher. Call
// before Start: the publisher receives the existing log once, then every
// newly appended event as the fold loop observes it.
func (e *Engine) SetEventPublisher(pub ports.EventPublisher) { e.publisher = pub }

// Positions returns the engine's live-folded Positions projection.
func (e *Engine) Positions() *projection.Positions { return e.positions }

// PnL returns the engine's live-folded PnL projection.
func (e *Engine) PnL() *projection.PnL { return e.pnl }

// Balances returns the engine's live-folded Balances projection.
func (e *Engine) Balances() *projection.Balances { return e.balances }

// Metrics returns the engine's metrics sink.
func (e *Engine) Metrics() ports.MetricsSink { return e.metrics }
