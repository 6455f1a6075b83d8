// Package execution wraps any ports.ExecutionAdapter with a retry and
// circuit-breaker policy, appends every adapter lifecycle event to the
// event store, and runs the stale-order reconciliation loop.
//
// Transient-vs-fatal classification goes through the adapter-agnostic
// Retryable(bool) contract: the adapter reports whether a failure is
// worth retrying, the policy decides when. The breaker tracks
// consecutive submit failures through a closed/open/half-open state
// machine, one instance per adapter so one venue's outage never gates
// another's submits.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
	"github.com/alejandrodnm/tradeflow/internal/xerrors"
)

// EventAppender is the narrow sink Policy publishes adapter lifecycle
// events through: the ring-buffer-backed persistence path in live mode, a
// direct in-memory store append in backtests.
type EventAppender interface {
	Append(e domain.DomainEvent) error
}

// Config is the retry + circuit-breaker tuning for one Policy.
type Config struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Jitter               float64
	FailureThreshold     int
	CooldownMs           int64
	HalfOpenMaxSuccesses int
	AckTimeoutMs         int64
	FillTimeoutMs        int64
}

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

// Policy wraps adapter with retry-with-backoff submission, a
// closed/open/half-open circuit breaker, event-store persistence of every
// adapter lifecycle event, and reconciliation tracking of orders that
// haven't acked or filled in time.
type Policy struct {
	adapter  ports.ExecutionAdapter
	clock    ports.Clock
	appender EventAppender
	metrics  ports.MetricsSink
	log      *slog.Logger
	cfg      Config

	mu                  sync.Mutex
	state               circuitState
	consecutiveFailures int
	halfOpenSuccesses   int
	nextAttemptTs       time.Time

	rec *reconciler
}

// New builds a Policy over adapter. metrics may be nil.
func New(adapter ports.ExecutionAdapter, clock ports.Clock, appender EventAppender, metrics ports.MetricsSink, cfg Config, log *slog.Logger) *Policy {
	return &Policy{
		adapter:  adapter,
		clock:    clock,
		appender: appender,
		metrics:  metrics,
		cfg:      cfg,
		log:      log.With("component", "execution_policy", "adapter", adapter.ID()),
		rec:      newReconciler(clock, cfg.AckTimeoutMs, cfg.FillTimeoutMs),
	}
}

// Submit attempts order through the circuit breaker and retry policy. A
// circuit refusal or exhausted retries both produce an order.reject event
// appended through EventAppender and a non-nil error; the engine's
// submitOrder keys off that error to call risk.Engine.Revert.
func (p *Policy) Submit(ctx context.Context, order domain.OrderNew) error {
	if refusal := p.checkCircuit(); refusal != nil {
		p.rejectOrder(order.ID, refusal.Error())
		return refusal
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.adapter.Submit(ctx, order)
		if err == nil {
			p.recordSuccess()
			p.rec.trackSubmitted(order.ID)
			return nil
		}
		lastErr = err

		if !retryable(err) {
			p.recordFailure()
			p.rejectOrder(order.ID, err.Error())
			return err
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		if p.metrics != nil {
			p.metrics.IncCounter("execution_retries", map[string]string{"adapter": p.adapter.ID()}, 1)
		}
		delay := backoffDelay(p.cfg.BaseDelay, p.cfg.MaxDelay, attempt, p.cfg.Jitter)
		select {
		case <-p.clock.After(delay):
		case <-ctx.Done():
			p.recordFailure()
			return ctx.Err()
		}
	}

	p.recordFailure()
	p.rejectOrder(order.ID, lastErr.Error())
	return xerrors.NewTransientIO("execution.Policy.Submit", lastErr)
}

// Cancel forwards to the adapter without retry or circuit gating; a
// cancel that fails is surfaced to the caller directly.
func (p *Policy) Cancel(ctx context.Context, orderID string) error {
	return p.adapter.Cancel(ctx, orderID)
}

// Run drains the adapter's event stream, persisting each lifecycle event
// and feeding the reconciliation tracker, until ctx is canceled or the
// adapter closes its channel.
func (p *Policy) Run(ctx context.Context) {
	go p.rec.run(ctx, p.log)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.adapter.Events():
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

func (p *Policy) handleEvent(ev ports.ExecutionEvent) {
	var (
		evt domain.DomainEvent
		err error
		ts  int64
	)
	switch ev.Kind {
	case ports.ExecAck:
		ts = ev.Ack.T
		evt, err = domain.NewEvent(domain.KindOrderAck, ts, *ev.Ack, nil)
		p.rec.trackAcked(ev.OrderID)
	case ports.ExecFill:
		ts = ev.Fill.T
		evt, err = domain.NewEvent(domain.KindOrderFill, ts, *ev.Fill, nil)
		p.rec.trackFilled(ev.OrderID)
	case ports.ExecReject:
		ts = ev.Reject.T
		evt, err = domain.NewEvent(domain.KindOrderReject, ts, *ev.Reject, nil)
		p.rec.drop(ev.OrderID)
	case ports.ExecCancel:
		ts = ev.Cancel.T
		evt, err = domain.NewEvent(domain.KindOrderCancel, ts, *ev.Cancel, nil)
		p.rec.drop(ev.OrderID)
	default:
		p.log.Warn("unknown execution event kind", "kind", ev.Kind)
		return
	}
	if err != nil {
		p.log.Error("failed to build domain event from execution event", "err", err, "orderId", ev.OrderID)
		return
	}
	if err := p.appender.Append(evt); err != nil {
		p.log.Error("failed to append execution event", "err", err, "orderId", ev.OrderID)
	}
}

func (p *Policy) rejectOrder(orderID, reason string) {
	if p.appender == nil {
		return
	}
	payload := domain.OrderRejectPayload{OrderID: orderID, Reason: reason, T: p.clock.Now().UnixMilli()}
	evt, err := domain.NewEvent(domain.KindOrderReject, payload.T, payload, nil)
	if err != nil {
		p.log.Error("failed to build reject event", "err", err, "orderId", orderID)
		return
	}
	if err := p.appender.Append(evt); err != nil {
		p.log.Error("failed to append reject event", "err", err, "orderId", orderID)
	}
}

// checkCircuit returns a non-nil xerrors.CircuitOpen if submission should
// be refused without calling the adapter, transitioning open→half-open
// first if the cooldown has elapsed.
func (p *Policy) checkCircuit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateOpen {
		return nil
	}
	now := p.clock.Now()
	if now.Before(p.nextAttemptTs) {
		return &xerrors.CircuitOpen{Adapter: p.adapter.ID(), RetryAt: p.nextAttemptTs.UnixMilli()}
	}
	p.state = stateHalfOpen
	p.halfOpenSuccesses = 0
	p.log.Info("circuit moving to half-open", "adapter", p.adapter.ID())
	p.setCircuitGaugeLocked()
	return nil
}

func (p *Policy) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateHalfOpen:
		p.halfOpenSuccesses++
		if p.halfOpenSuccesses >= p.cfg.HalfOpenMaxSuccesses {
			p.state = stateClosed
			p.consecutiveFailures = 0
			p.halfOpenSuccesses = 0
			p.log.Info("circuit closed", "adapter", p.adapter.ID())
			p.setCircuitGaugeLocked()
		}
	default:
		p.consecutiveFailures = 0
	}
}

// setCircuitGaugeLocked publishes execution_circuit_state as
// closed=0, open=1, half-open=2. Callers must hold p.mu.
func (p *Policy) setCircuitGaugeLocked() {
	if p.metrics == nil {
		return
	}
	var v float64
	switch p.state {
	case stateOpen:
		v = 1
	case stateHalfOpen:
		v = 2
	}
	p.metrics.SetGauge("execution_circuit_state", map[string]string{"adapter": p.adapter.ID()}, v)
}

func (p *Policy) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateHalfOpen {
		p.openCircuitLocked()
		return
	}

	p.consecutiveFailures++
	if p.cfg.FailureThreshold > 0 && p.consecutiveFailures >= p.cfg.FailureThreshold {
		p.openCircuitLocked()
	}
	if p.metrics != nil {
		p.metrics.IncCounter("execution_failures", map[string]string{"adapter": p.adapter.ID()}, 1)
	}
}

func (p *Policy) openCircuitLocked() {
	p.state = stateOpen
	p.halfOpenSuccesses = 0
	p.nextAttemptTs = p.clock.Now().Add(time.Duration(p.cfg.CooldownMs) * time.Millisecond)
	p.log.Warn("circuit open", "adapter", p.adapter.ID(), "retryAt", p.nextAttemptTs)
	if p.metrics != nil {
		p.metrics.IncCounter("execution_circuit_trips", map[string]string{"adapter": p.adapter.ID()}, 1)
	}
	p.setCircuitGaugeLocked()
}

func retryable(err error) bool {
	var r ports.Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var transient *xerrors.TransientIO
	return errors.As(err, &transient)
}

// backoffDelay computes delay = clamp(base*2^(attempt-1), base, max) ±
// jitter*delay uniform noise, the same schedule feed.BackoffDelay applies
// to reconnects.
func backoffDelay(base, max time.Duration, attempt int, jitter float64) time.Duration {
	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if raw > float64(max) {
		raw = float64(max)
	}
	if raw < float64(base) {
		raw = float64(base)
	}
	if jitter <= 0 {
		return time.Duration(raw)
	}
	noise := 1 + jitter*(2*rand.Float64()-1)
	return time.Duration(raw * noise)
}
