package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/alejandrodnm/tradeflow/internal/backtest"
	"github.com/alejandrodnm/tradeflow/internal/config"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/exit"
	"github.com/alejandrodnm/tradeflow/internal/intent"
	"github.com/alejandrodnm/tradeflow/internal/report"
	"github.com/alejandrodnm/tradeflow/internal/risk"
	"github.com/alejandrodnm/tradeflow/internal/strategy"
)

// tickFixture is the JSON shape one line of a backtest fixture file takes.
// T is an ISO-8601 timestamp string (parsed with relvacode/iso8601, which
// accepts the handful of profile variants real market data exports use —
// plain time.Parse(time.RFC3339, ...) rejects several of them). Pointer
// fields distinguish "absent" from "zero" the way domain.MarketTick itself
// tracks HasBid/HasAsk/HasLast.
type tickFixture struct {
	T      string   `json:"t"`
	Symbol string   `json:"symbol"`
	Bid    *float64 `json:"bid"`
	Ask    *float64 `json:"ask"`
	Last   *float64 `json:"last"`
}

func loadFixture(path string) ([]domain.MarketTick, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loadFixture: %w", err)
	}
	var rows []tickFixture
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("loadFixture: parse %q: %w", path, err)
	}

	ticks := make([]domain.MarketTick, 0, len(rows))
	for _, r := range rows {
		ts, err := iso8601.ParseString(r.T)
		if err != nil {
			return nil, fmt.Errorf("loadFixture: row t=%q symbol=%q: %w", r.T, r.Symbol, err)
		}

		var bid, ask, last float64
		var hasBid, hasAsk, hasLast bool
		if r.Bid != nil {
			bid, hasBid = *r.Bid, true
		}
		if r.Ask != nil {
			ask, hasAsk = *r.Ask, true
		}
		if r.Last != nil {
			last, hasLast = *r.Last, true
		}
		tick, err := domain.NewMarketTick(ts.UnixMilli(), r.Symbol, bid, ask, last, hasBid, hasAsk, hasLast)
		if err != nil {
			return nil, fmt.Errorf("loadFixture: row t=%q symbol=%q: %w", r.T, r.Symbol, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// strategyRun bundles one configured strategy's live pieces for the
// synchronous backtest pipeline: its own intent builder (cooldown/dedupe
// state is per strategy) and the signal stream the registry built for it.
type strategyRun struct {
	cfg     config.StrategyConfig
	builder *intent.Builder
	signals <-chan domain.StrategySignal
}

// runBacktestCmd replays cfg.Backtest.FixturePath through the same
// strategy → intent → risk → execution pipeline live mode uses, on top of
// backtest.Harness's manual clock, in-memory store, historical feed, and
// paper execution adapter.
func runBacktestCmd(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	ticks, err := loadFixture(cfg.Backtest.FixturePath)
	if err != nil {
		log.Error("failed to load backtest fixture", "err", err)
		os.Exit(1)
	}

	start, err := time.Parse(time.RFC3339, cfg.Backtest.StartTimeRFC3339)
	if err != nil {
		log.Error("invalid backtest.start_time", "err", err)
		os.Exit(1)
	}

	h := backtest.New(start, cfg.Backtest.StartingCapital, cfg.Backtest.PaperFeeBps, log)

	registry := strategy.NewRegistry()
	riskEngine := risk.New(cfg.Risk, h.Clock, nil, nil)
	exitEngine := exit.New(h.Clock, cfg.RiskOverrides)

	runs := make(map[string]*strategyRun, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		sources := make([]strategy.FeedSource, 0, len(sc.Feeds))
		for _, id := range sc.Feeds {
			sources = append(sources, strategy.FeedSource{ID: id, Stream: h.Feed.Ticks()})
		}
		sctx := strategy.Context{
			TradeSymbol: sc.TradeSymbol,
			FeedSources: sources,
			Marks:       h.Feed.Ticks(),
			CreateExternalFeed: func(feedType, symbol, idSuffix string) (<-chan domain.MarketTick, error) {
				return h.Feed.Ticks(), nil
			},
		}
		signals, err := registry.Build(sc.Type, sctx, sc.Params)
		if err != nil {
			log.Error("failed to build strategy", "strategy", sc.ID, "err", err)
			os.Exit(1)
		}
		exitEngine.Configure(sc.TradeSymbol, sc.Exit)
		runs[sc.ID] = &strategyRun{cfg: sc, builder: intent.New(cfg.Intent), signals: signals}
	}

	h.SetTickHook(func(ctx context.Context, h *backtest.Harness, tick domain.MarketTick) {
		for _, run := range runs {
			run.builder.OnTick(tick)
			if ps := h.Positions().Get(run.cfg.TradeSymbol); ps.Symbol != "" {
				exitEngine.OnPosition(ps, tick.T)
			}
		}
		if latest := h.PnL().Latest(); latest.T > 0 {
			if dec, ok := exitEngine.OnPnL(latest.NAV, tick.T); ok {
				submitExit(ctx, h, riskEngine, dec, cfg.Account.ID)
			}
		}
		gross, perSymbol := exposures(h.Positions().All())
		if dec, ok := exitEngine.OnExposure(gross, perSymbol, tick.T); ok {
			submitExit(ctx, h, riskEngine, dec, cfg.Account.ID)
		}
		if dec, ok := exitEngine.OnTick(tick.Symbol, referencePx(tick), tick.T); ok {
			submitExit(ctx, h, riskEngine, dec, cfg.Account.ID)
		}
		for id, run := range runs {
			drainSignals(ctx, h, riskEngine, exitEngine, run, id, cfg.Account.ID)
		}
	})

	started := time.Now()
	if err := h.Replay(ctx, ticks); err != nil {
		log.Error("backtest replay failed", "err", err)
		os.Exit(1)
	}
	wall := time.Since(started)

	stats, err := h.Stats(ctx, len(ticks), wall)
	if err != nil {
		log.Error("failed to compute backtest stats", "err", err)
		os.Exit(1)
	}

	log.Info("backtest complete",
		"ticks", len(ticks), "ticks_per_sec", stats.TicksPerSec, "events_per_sec", stats.EventsPerSec,
		"nav_start", stats.NAVStart, "nav_end", stats.NAVEnd, "nav_change", stats.NAVChange,
		"max_drawdown_pct", stats.MaxDrawdownPct, "sharpe", stats.SharpeRatio,
	)
	report.New(os.Stdout).PrintBacktest(stats)
}

// drainSignals non-blockingly drains every signal currently buffered on
// run.signals, shaping each into an order and submitting it through risk
// and the paper execution adapter — the same shape as
// Harness.DrainExecutionEvents, applied to the strategy side of the
// pipeline instead of the adapter side.
func drainSignals(ctx context.Context, h *backtest.Harness, riskEngine *risk.Engine, exitEngine *exit.Engine, run *strategyRun, strategyID, account string) {
	for {
		select {
		case sig, ok := <-run.signals:
			if !ok {
				return
			}
			sig.StrategyID = strategyID
			exitEngine.OnSignal(sig)
			order, ok, err := run.builder.Build(sig, account)
			if err != nil || !ok {
				continue
			}
			submitOrder(ctx, h, riskEngine, order)
		default:
			return
		}
	}
}

func submitExit(ctx context.Context, h *backtest.Harness, riskEngine *risk.Engine, dec exit.Decision, account string) {
	symbols := []string{dec.Symbol}
	if dec.Action == exit.FlattenAll {
		symbols = symbols[:0]
		for symbol := range h.Positions().All() {
			symbols = append(symbols, symbol)
		}
	}
	for _, symbol := range symbols {
		pos := h.Positions().Get(symbol)
		if pos.Pos == 0 {
			continue
		}
		side := domain.SideSell
		if pos.Pos < 0 {
			side = domain.SideBuy
		}
		qty := pos.Pos
		if qty < 0 {
			qty = -qty
		}
		order := domain.OrderNew{
			ID: domain.NewID(), T: dec.T, Symbol: symbol, Side: side,
			Qty: qty, Type: domain.OrderTypeMarket, TIF: domain.TIFIOC, Account: account,
			Meta: map[string]any{"exit": true, "reason": string(dec.Reason)},
		}
		submitOrder(ctx, h, riskEngine, order)
	}
}

func submitOrder(ctx context.Context, h *backtest.Harness, riskEngine *risk.Engine, order domain.OrderNew) {
	result := riskEngine.Check(order)
	check := domain.RiskCheckPayload{OrderID: order.ID, Symbol: order.Symbol, Allowed: result.Allowed, Reasons: result.Reasons}
	if evt, err := domain.NewEvent(domain.KindRiskCheck, order.T, check, nil); err == nil {
		_ = h.Appender.Append(evt)
	}
	if !result.Allowed {
		return
	}
	if evt, err := domain.NewEvent(domain.KindOrderNew, order.T, order, nil); err == nil {
		_ = h.Appender.Append(evt)
	}
	if err := h.Paper.Submit(ctx, order); err != nil {
		riskEngine.Revert(order)
	}
}

// exposures computes gross and per-symbol notional exposure off the
// positions projection, marking each open position at its latest mark (or
// average entry price before the first mark arrives).
func exposures(positions map[string]domain.PositionState) (float64, map[string]float64) {
	var gross float64
	perSymbol := make(map[string]float64, len(positions))
	for symbol, ps := range positions {
		if ps.Pos == 0 {
			continue
		}
		mark := ps.Mark
		if mark == 0 {
			mark = ps.AvgPx
		}
		notional := ps.Pos * mark
		perSymbol[symbol] = notional
		if notional < 0 {
			gross -= notional
		} else {
			gross += notional
		}
	}
	return gross, perSymbol
}

func referencePx(t domain.MarketTick) float64 {
	if t.HasLast {
		return t.Last
	}
	if t.HasBid && t.HasAsk {
		return (t.Bid + t.Ask) / 2
	}
	if t.HasBid {
		return t.Bid
	}
	if t.HasAsk {
		return t.Ask
	}
	return 0
}
