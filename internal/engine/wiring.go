package engine

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/exit"
	"github.com/alejandrodnm/tradeflow/internal/queue"
)

// foldLoop applies every newly appended event to the engine's live
// projections off the store's broadcast stream, then feeds the exit
// engine the position and PnL state it arms its rules against.
func (e *Engine) foldLoop(ctx context.Context, appender *queue.Appender, ch <-chan domain.DomainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.applyProjections(ev)
			if e.publisher != nil {
				e.publisher.PublishEvent(ev)
			}
			e.feedExitEngine(ctx, appender, ev)
		}
	}
}

// feedExitEngine pushes position/PnL transitions into the exit engine:
// fills arm (or disarm) the per-symbol rules and trigger an exposure
// check, portfolio snapshots resync every tracked symbol, and each
// pnl.analytics point drives the drawdown risk override.
func (e *Engine) feedExitEngine(ctx context.Context, appender *queue.Appender, ev domain.DomainEvent) {
	switch ev.Type {
	case domain.KindOrderFill:
		var f domain.Fill
		if err := ev.DecodeData(&f); err != nil {
			return
		}
		e.exitEngine.OnPosition(e.positions.Get(f.Symbol), ev.Ts)
		e.checkExposure(ctx, appender, ev.Ts)
	case domain.KindPortfolioSnapshot:
		for _, ps := range e.positions.All() {
			e.exitEngine.OnPosition(ps, ev.Ts)
		}
	case domain.KindPnLAnalytics:
		var pnl domain.PnLAnalytics
		if err := ev.DecodeData(&pnl); err != nil {
			return
		}
		if dec, ok := e.exitEngine.OnPnL(pnl.NAV, ev.Ts); ok {
			e.submitExit(ctx, appender, dec)
		}
	}
}

// checkExposure marks every open position at its latest mark (falling
// back to entry price before the first mark event lands) and runs the
// gross/per-symbol exposure overrides.
func (e *Engine) checkExposure(ctx context.Context, appender *queue.Appender, t int64) {
	var gross float64
	perSymbol := make(map[string]float64)
	for symbol, ps := range e.positions.All() {
		if ps.Pos == 0 {
			continue
		}
		mark := ps.Mark
		if mark == 0 {
			mark = ps.AvgPx
		}
		notional := ps.Pos * mark
		perSymbol[symbol] = notional
		gross += absFloat(notional)
	}
	if dec, ok := e.exitEngine.OnExposure(gross, perSymbol, t); ok {
		e.submitExit(ctx, appender, dec)
	}
}

func (e *Engine) applyProjections(ev domain.DomainEvent) {
	for _, apply := range []func(domain.DomainEvent) error{
		e.positions.Apply, e.pnl.Apply, e.balances.Apply, e.margin.Apply, e.orders.Apply,
	} {
		if err := apply(ev); err != nil {
			e.log.Error("projection reducer rejected event", "error", err, "event_id", ev.ID, "event_type", ev.Type)
		}
	}
}

// marksLoop persists every merged tick as a market.tick event, feeds it to
// every strategy's intent builder (so reference-price selection always
// sees the latest quote), and evaluates the exit engine's per-tick rules,
// submitting any resulting flatten order.
func (e *Engine) marksLoop(ctx context.Context, appender *queue.Appender) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-e.feedMgr.Marks():
			if !ok {
				return
			}
			e.metrics.IncCounter("ticks_ingested", map[string]string{"symbol": tick.Symbol}, 1)

			evt, err := domain.NewEvent(domain.KindMarketTick, tick.T, tick, nil)
			if err == nil {
				if err := appender.Append(evt); err != nil {
					e.log.Error("failed to persist tick", "error", err)
				}
			}

			for _, rt := range e.strategies {
				rt.builder.OnTick(tick)
			}

			px := referencePrice(tick)
			if px > 0 && e.positions.Get(tick.Symbol).Pos != 0 {
				mark := domain.PositionMark{Symbol: tick.Symbol, Mark: px, T: tick.T}
				if evt, err := domain.NewEvent(domain.KindPositionMark, tick.T, mark, nil); err == nil {
					if err := appender.Append(evt); err != nil {
						e.log.Error("failed to persist position mark", "error", err)
					}
				}
			}

			if dec, ok := e.exitEngine.OnTick(tick.Symbol, px, tick.T); ok {
				e.submitExit(ctx, appender, dec)
			}
		}
	}
}

// referencePrice picks the price the exit engine marks a position against:
// last, else the bid/ask midpoint, matching the backtest harness's
// recordMark fallback order.
func referencePrice(t domain.MarketTick) float64 {
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

// signalLoop drains one strategy's signal stream, shaping each signal into
// an order via its intent builder and pushing it through risk + execution.
func (e *Engine) signalLoop(ctx context.Context, appender *queue.Appender, strategyID string, rt *strategyRuntime) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-rt.signals:
			if !ok {
				return
			}
			sig.StrategyID = strategyID
			e.exitEngine.OnSignal(sig)

			if evt, err := domain.NewEvent(domain.KindStrategySignal, sig.T, sig, nil); err == nil {
				if err := appender.Append(evt); err != nil {
					e.log.Error("failed to persist signal", "error", err)
				}
			}

			order, ok, err := rt.builder.Build(sig, e.cfg.Account.ID)
			if err != nil {
				e.log.Error("intent builder rejected signal", "error", err, "strategy", strategyID)
				continue
			}
			if !ok {
				continue
			}
			order.Meta = withStrategyID(order.Meta, strategyID)
			e.submitOrder(ctx, appender, order)
		}
	}
}

// submitExit builds a reduce-only order from an exit.Decision and submits
// it with meta.exit=true so risk skips the gates exits bypass.
// Per-symbol decisions flatten that symbol's position; a
// FLATTEN_ALL risk override flattens every open position.
func (e *Engine) submitExit(ctx context.Context, appender *queue.Appender, dec exit.Decision) {
	switch dec.Action {
	case exit.FlattenAll:
		for symbol := range e.positions.All() {
			e.submitFlatten(ctx, appender, symbol, dec.Reason, dec.T)
		}
	default:
		e.submitFlatten(ctx, appender, dec.Symbol, dec.Reason, dec.T)
	}
}

func (e *Engine) submitFlatten(ctx context.Context, appender *queue.Appender, symbol string, reason exit.Reason, t int64) {
	pos := e.positions.Get(symbol)
	if pos.Pos == 0 {
		return
	}
	side := domain.SideSell
	if pos.Pos < 0 {
		side = domain.SideBuy
	}
	order := domain.OrderNew{
		ID: domain.NewID(), T: t, Symbol: symbol, Side: side,
		Qty: absFloat(pos.Pos), Type: domain.OrderTypeMarket, TIF: domain.TIFIOC,
		Account: e.cfg.Account.ID,
		Meta:    map[string]any{"exit": true, "reason": string(reason)},
	}
	e.submitOrder(ctx, appender, order)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func withStrategyID(meta map[string]any, strategyID string) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["strategyId"] = strategyID
	return meta
}

// submitOrder runs order through pre-trade risk, persists the decision,
// and, if allowed, submits it to the execution policy. A downstream
// submit failure reverts the optimistic exposure update risk.Check made.
func (e *Engine) submitOrder(ctx context.Context, appender *queue.Appender, order domain.OrderNew) {
	result := e.riskEngine.Check(order)

	check := domain.RiskCheckPayload{OrderID: order.ID, Symbol: order.Symbol, Allowed: result.Allowed, Reasons: result.Reasons}
	if evt, err := domain.NewEvent(domain.KindRiskCheck, order.T, check, nil); err == nil {
		if err := appender.Append(evt); err != nil {
			e.log.Error("failed to persist risk check", "error", err)
		}
	}

	if !result.Allowed {
		e.metrics.IncCounter("risk_rejected", map[string]string{"symbol": order.Symbol}, 1)
		e.log.Info("order rejected by pre-trade risk", "order_id", order.ID, "reasons", result.Reasons)
		return
	}

	if evt, err := domain.NewEvent(domain.KindOrderNew, order.T, order, nil); err == nil {
		if err := appender.Append(evt); err != nil {
			e.log.Error("failed to persist order.new", "error", err)
		}
	}

	e.metrics.IncCounter("orders_submitted", map[string]string{"symbol": order.Symbol}, 1)
	if err := e.policy.Submit(ctx, order); err != nil {
		e.log.Warn("execution submit failed", "error", err, "order_id", order.ID)
		e.riskEngine.Revert(order)
	}
}
