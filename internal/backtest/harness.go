// Package backtest implements the deterministic replay harness: a
// ManualClock-driven loop over pre-sorted historical ticks, wired to an
// in-memory event store, a historical feed adapter that never reconnects,
// a paper execution adapter, and an inline (queue-bypassing) persistence
// path. Given identical config and dataset, two runs produce the same
// sequence of event kinds, timestamps, prices, and NAV points. They are not
// byte-identical: event, order, and fill ids come from random UUIDs
// (domain.NewID) and differ from run to run.
package backtest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/adapters/histfeed"
	"github.com/alejandrodnm/tradeflow/internal/adapters/paperexec"
	"github.com/alejandrodnm/tradeflow/internal/clock"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/memstore"
	"github.com/alejandrodnm/tradeflow/internal/eventstore/projection"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// TickHook lets the engine bootstrap run its reactive pipeline (strategy
// → intent → risk → execution → exit) synchronously for each replayed
// tick without the backtest package depending on any of those packages.
type TickHook func(ctx context.Context, h *Harness, tick domain.MarketTick)

// Harness owns every backtest-only dependency: the
// manual clock, the in-memory store, the inline appender, the historical
// feed, and a paper execution adapter. The engine bootstrap wires
// strategies/risk/execution against Feed and Paper exactly as it would
// for a live run; only the adapters underneath differ.
type Harness struct {
	Clock    *clock.Manual
	Store    ports.EventStore
	Appender *inlineAppender
	Feed     *histfeed.Adapter
	Paper    *paperexec.Adapter

	positions *projection.Positions
	pnl       *projection.PnL

	startingCapital float64
	marks           map[string]float64
	lastAppliedIdx  int

	onTick TickHook
	log    *slog.Logger
}

// New builds a Harness starting the manual clock at start.
func New(start time.Time, startingCapital, paperFeeBps float64, log *slog.Logger) *Harness {
	c := clock.NewManual(start)
	store := memstore.New()
	return &Harness{
		Clock:           c,
		Store:           store,
		Appender:        newInlineAppender(context.Background(), store),
		Feed:            histfeed.New("historical", 4096),
		Paper:           paperexec.New("paper", c, paperFeeBps),
		positions:       projection.NewPositions(),
		pnl:             projection.NewPnL(),
		startingCapital: startingCapital,
		marks:           make(map[string]float64),
		log:             log.With("component", "backtest_harness"),
	}
}

// SetTickHook installs the per-tick callback the engine bootstrap uses to
// drive the rest of the pipeline.
func (h *Harness) SetTickHook(hook TickHook) { h.onTick = hook }

// Positions returns the harness's live-folded Positions projection.
func (h *Harness) Positions() *projection.Positions { return h.positions }

// PnL returns the harness's live-folded PnL projection, including the
// full per-tick NAV series accumulated during Replay.
func (h *Harness) PnL() *projection.PnL { return h.pnl }

// Replay sorts ticks by t ascending and, for each: advances the clock to
// tick.t, records it as the latest mark, pushes it into the historical
// feed, runs the tick hook, drains any execution events the hook's
// pipeline produced, and appends a derived pnl.analytics NAV point. After
// the last tick it drains once more and disconnects the feed.
func (h *Harness) Replay(ctx context.Context, ticks []domain.MarketTick) error {
	sorted := make([]domain.MarketTick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	if err := h.Feed.Connect(ctx); err != nil {
		return err
	}

	for _, tick := range sorted {
		if err := h.Clock.AdvanceTo(time.UnixMilli(tick.T)); err != nil {
			return err
		}
		h.recordMark(tick)
		if px, ok := h.marks[tick.Symbol]; ok {
			h.Paper.OnTick(tick.Symbol, px)
		}
		if evt, err := domain.NewEvent(domain.KindMarketTick, tick.T, tick, nil); err == nil {
			if err := h.Appender.Append(evt); err != nil {
				return err
			}
		}
		h.Feed.PushTick(tick)

		if h.onTick != nil {
			h.onTick(ctx, h, tick)
		}

		h.DrainExecutionEvents(h.Paper)
		if err := h.applyFold(ctx); err != nil {
			return err
		}
		if err := h.emitMark(ctx, tick); err != nil {
			return err
		}
		if err := h.emitNAV(ctx, tick.T); err != nil {
			return err
		}
	}

	// Yield once so any goroutine-buffered execution events from the last
	// tick (e.g. a Policy.Run forwarding loop) have a chance to settle
	// before the engine stops.
	h.DrainExecutionEvents(h.Paper)
	return h.Feed.Disconnect()
}

func (h *Harness) recordMark(tick domain.MarketTick) {
	px := tick.Last
	if !tick.HasLast {
		switch {
		case tick.HasBid && tick.HasAsk:
			px = (tick.Bid + tick.Ask) / 2
		case tick.HasBid:
			px = tick.Bid
		case tick.HasAsk:
			px = tick.Ask
		default:
			return
		}
	}
	h.marks[tick.Symbol] = px
}

// DrainExecutionEvents non-blockingly drains every currently buffered
// event off adapter.Events(), appending it inline and folding it into the
// Positions/PnL projections, in arrival order.
func (h *Harness) DrainExecutionEvents(adapter ports.ExecutionAdapter) {
	for {
		select {
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			h.persistExecutionEvent(ev)
		default:
			return
		}
	}
}

func (h *Harness) persistExecutionEvent(ev ports.ExecutionEvent) {
	var (
		evt domain.DomainEvent
		err error
	)
	switch ev.Kind {
	case ports.ExecAck:
		evt, err = domain.NewEvent(domain.KindOrderAck, ev.Ack.T, *ev.Ack, nil)
	case ports.ExecFill:
		evt, err = domain.NewEvent(domain.KindOrderFill, ev.Fill.T, *ev.Fill, nil)
	case ports.ExecReject:
		evt, err = domain.NewEvent(domain.KindOrderReject, ev.Reject.T, *ev.Reject, nil)
	case ports.ExecCancel:
		evt, err = domain.NewEvent(domain.KindOrderCancel, ev.Cancel.T, *ev.Cancel, nil)
	default:
		return
	}
	if err != nil {
		h.log.Error("failed to build domain event from execution event", "err", err)
		return
	}
	if err := h.Appender.Append(evt); err != nil {
		h.log.Error("failed to append execution event", "err", err)
	}
}

func (h *Harness) applyFold(ctx context.Context) error {
	events, err := h.Store.Read(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range events[h.lastAppliedIdx:] {
		if e.Type == domain.KindOrderFill || e.Type == domain.KindPositionMark || e.Type == domain.KindPortfolioSnapshot {
			if err := h.positions.Apply(e); err != nil {
				return err
			}
		}
	}
	h.lastAppliedIdx = len(events)
	return nil
}

// emitMark appends a position.mark event when tick's symbol has an open
// position, keeping the Positions projection's Mark field current the
// same way the live engine's mark dispatcher does.
func (h *Harness) emitMark(ctx context.Context, tick domain.MarketTick) error {
	px, ok := h.marks[tick.Symbol]
	if !ok || h.positions.Get(tick.Symbol).Pos == 0 {
		return nil
	}
	mark := domain.PositionMark{Symbol: tick.Symbol, Mark: px, T: tick.T}
	evt, err := domain.NewEvent(domain.KindPositionMark, tick.T, mark, nil)
	if err != nil {
		return err
	}
	if err := h.Appender.Append(evt); err != nil {
		return err
	}
	return h.positions.Apply(evt)
}

// emitNAV computes NAV = startingCapital + netRealized + unrealized
// (mark-to-market on every open position) and appends it as a
// pnl.analytics event, the per-tick NAV point the stats derive from.
func (h *Harness) emitNAV(ctx context.Context, t int64) error {
	var netRealized, unrealized, feesPaid float64
	for symbol, st := range h.positions.All() {
		netRealized += st.GrossRealized
		feesPaid += st.FeesPaid
		if mark, ok := h.marks[symbol]; ok && st.Pos != 0 {
			unrealized += (mark - st.AvgPx) * st.Pos
		}
	}
	nav := h.startingCapital + netRealized - feesPaid + unrealized

	payload := domain.PnLAnalytics{
		T: t, NAV: nav, GrossRealized: netRealized, FeesPaid: feesPaid, Unrealized: unrealized,
	}
	evt, err := domain.NewEvent(domain.KindPnLAnalytics, t, payload, nil)
	if err != nil {
		return err
	}
	if err := h.Appender.Append(evt); err != nil {
		return err
	}
	return h.pnl.Apply(evt)
}
