package execution

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradeflow/internal/clock"
	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

type fatalErr struct{ msg string }

func (e *fatalErr) Error() string  { return e.msg }
func (e *fatalErr) Retryable() bool { return false }

type transientErr struct{ msg string }

func (e *transientErr) Error() string  { return e.msg }
func (e *transientErr) Retryable() bool { return true }

type fakeAdapter struct {
	id       string
	submitFn func(order domain.OrderNew) error
	events   chan ports.ExecutionEvent
	calls    int
}

func newFakeAdapter(id string, submitFn func(domain.OrderNew) error) *fakeAdapter {
	return &fakeAdapter{id: id, submitFn: submitFn, events: make(chan ports.ExecutionEvent, 16)}
}

func (a *fakeAdapter) ID() string { return a.id }
func (a *fakeAdapter) Submit(ctx context.Context, order domain.OrderNew) error {
	a.calls++
	return a.submitFn(order)
}
func (a *fakeAdapter) Cancel(ctx context.Context, orderID string) error { return nil }
func (a *fakeAdapter) Events() <-chan ports.ExecutionEvent              { return a.events }

type fakeAppender struct {
	events []domain.DomainEvent
}

func (a *fakeAppender) Append(e domain.DomainEvent) error {
	a.events = append(a.events, e)
	return nil
}

func testOrder(id string) domain.OrderNew {
	return domain.OrderNew{
		ID: id, Symbol: "SIM", Side: domain.SideBuy, Qty: 1, Type: domain.OrderTypeMarket,
		TIF: domain.TIFIOC,
	}
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	adapter := newFakeAdapter("paper", func(o domain.OrderNew) error {
		attempts++
		if attempts < 3 {
			return &transientErr{"timeout"}
		}
		return nil
	})
	c := clock.NewManual(time.Unix(0, 0))
	app := &fakeAppender{}
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, FailureThreshold: 10, CooldownMs: 1000, HalfOpenMaxSuccesses: 1, AckTimeoutMs: 1000, FillTimeoutMs: 1000}
	p := New(adapter, c, app, nil, cfg, testLogger())

	// Drive the clock forward in the background so After() fires for each
	// retry's backoff wait.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			c.Advance(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}()

	err := p.Submit(context.Background(), testOrder("o1"))
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	<-done
}

func TestPolicy_FatalErrorRejectsImmediately(t *testing.T) {
	adapter := newFakeAdapter("paper", func(o domain.OrderNew) error {
		return &fatalErr{"bad request"}
	})
	c := clock.NewManual(time.Unix(0, 0))
	app := &fakeAppender{}
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, FailureThreshold: 10, CooldownMs: 1000, HalfOpenMaxSuccesses: 1}
	p := New(adapter, c, app, nil, cfg, testLogger())

	err := p.Submit(context.Background(), testOrder("o2"))
	require.Error(t, err)
	require.Equal(t, 1, adapter.calls)
	require.Len(t, app.events, 1)
	require.Equal(t, domain.KindOrderReject, app.events[0].Type)
}

func TestPolicy_CircuitOpensAfterThresholdAndRefusesImmediately(t *testing.T) {
	adapter := newFakeAdapter("paper", func(o domain.OrderNew) error {
		return &fatalErr{"bad request"}
	})
	c := clock.NewManual(time.Unix(0, 0))
	app := &fakeAppender{}
	cfg := Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, FailureThreshold: 2, CooldownMs: 5000, HalfOpenMaxSuccesses: 1}
	p := New(adapter, c, app, nil, cfg, testLogger())

	require.Error(t, p.Submit(context.Background(), testOrder("o3")))
	require.Error(t, p.Submit(context.Background(), testOrder("o4")))
	require.Equal(t, 2, adapter.calls)

	// Circuit is now open; a third submit must be refused without calling
	// the adapter at all.
	err := p.Submit(context.Background(), testOrder("o5"))
	require.Error(t, err)
	require.Equal(t, 2, adapter.calls)
	var circuitOpen interface{ Error() string }
	require.True(t, errors.As(err, &circuitOpen))
}

func TestPolicy_CircuitClosesAfterCooldownAndHalfOpenSuccess(t *testing.T) {
	fail := true
	adapter := newFakeAdapter("paper", func(o domain.OrderNew) error {
		if fail {
			return &fatalErr{"bad request"}
		}
		return nil
	})
	c := clock.NewManual(time.Unix(0, 0))
	app := &fakeAppender{}
	cfg := Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, FailureThreshold: 1, CooldownMs: 1000, HalfOpenMaxSuccesses: 1}
	p := New(adapter, c, app, nil, cfg, testLogger())

	require.Error(t, p.Submit(context.Background(), testOrder("o6")))
	require.Error(t, p.Submit(context.Background(), testOrder("o7"))) // refused, circuit open
	require.Equal(t, 1, adapter.calls)

	require.NoError(t, c.Advance(2*time.Second))
	fail = false
	require.NoError(t, p.Submit(context.Background(), testOrder("o8")))
	require.Equal(t, 2, adapter.calls)

	// Circuit closed: further submits go straight through again.
	require.NoError(t, p.Submit(context.Background(), testOrder("o9")))
	require.Equal(t, 3, adapter.calls)
}

func TestPolicy_RunForwardsEventsToAppender(t *testing.T) {
	adapter := newFakeAdapter("paper", func(o domain.OrderNew) error { return nil })
	c := clock.NewManual(time.Unix(0, 0))
	app := &fakeAppender{}
	cfg := Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, FailureThreshold: 5, CooldownMs: 1000, HalfOpenMaxSuccesses: 1, AckTimeoutMs: 1000, FillTimeoutMs: 1000}
	p := New(adapter, c, app, nil, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	adapter.events <- ports.ExecutionEvent{
		Kind: ports.ExecAck, OrderID: "o10",
		Ack: &domain.OrderAckPayload{OrderID: "o10", T: 1000},
	}
	require.Eventually(t, func() bool { return len(app.events) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, domain.KindOrderAck, app.events[0].Type)
	cancel()
}
