// Package restexec is a reference ports.ExecutionAdapter over a
// venue-agnostic JSON REST order endpoint, built on
// github.com/hashicorp/go-retryablehttp. The submit-level retry and
// circuit-breaker policy live one layer up in execution.Policy, so this
// adapter only needs retryablehttp's transport-level retry for the
// narrower case of a dropped connection mid-request, and classifies
// HTTP 5xx/429 as Retryable and other 4xx as fatal.
package restexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// submitError wraps a non-2xx response so execution.Policy can classify
// it via ports.Retryable.
type submitError struct {
	status int
	body   string
}

func (e *submitError) Error() string {
	return fmt.Sprintf("restexec: submit failed with status %d: %s", e.status, e.body)
}

// Retryable reports true for 5xx, 429, and network-level failures
// (status 0); any other 4xx is fatal.
func (e *submitError) Retryable() bool {
	return e.status == 0 || e.status == http.StatusTooManyRequests || e.status >= 500
}

type submitRequest struct {
	OrderID string  `json:"orderId"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Qty     float64 `json:"qty"`
	Type    string  `json:"type"`
	Px      float64 `json:"px,omitempty"`
	TIF     string  `json:"tif"`
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

// Adapter submits orders to baseURL+"/orders" and cancels against
// baseURL+"/orders/{id}/cancel". The venue is expected to push ack/fill/
// reject/cancel notifications back out-of-band (e.g. a websocket this
// adapter also owns); in the absence of one, PushEvent lets a poller or
// test inject events onto the same Events() stream.
type Adapter struct {
	id      string
	baseURL string
	http    *retryablehttp.Client
	log     *slog.Logger

	events chan ports.ExecutionEvent

	mu     sync.Mutex
	closed bool
}

// New builds an Adapter against baseURL.
func New(id, baseURL string, log *slog.Logger) *Adapter {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Second

	return &Adapter{
		id:      id,
		baseURL: baseURL,
		http:    client,
		log:     log.With("component", "restexec", "adapter_id", id),
		events:  make(chan ports.ExecutionEvent, 256),
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Events() <-chan ports.ExecutionEvent { return a.events }

// Submit POSTs order to the venue's order endpoint. A non-2xx response is
// returned as a *submitError, classified Retryable per-status; a
// successful POST does NOT itself emit order.ack — the venue's own
// async notification (PushEvent) does, since most REST venues ack
// out-of-band.
func (a *Adapter) Submit(ctx context.Context, order domain.OrderNew) error {
	body, err := json.Marshal(submitRequest{
		OrderID: order.ID, Symbol: order.Symbol, Side: string(order.Side),
		Qty: order.Qty, Type: string(order.Type), Px: order.Px, TIF: string(order.TIF),
	})
	if err != nil {
		return fmt.Errorf("restexec: marshal submit: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("restexec: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return &submitError{status: 0, body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &submitError{status: resp.StatusCode, body: string(b)}
	}
	return nil
}

// Cancel POSTs to the venue's cancel endpoint.
func (a *Adapter) Cancel(ctx context.Context, orderID string) error {
	body, err := json.Marshal(cancelRequest{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("restexec: marshal cancel: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/orders/%s/cancel", a.baseURL, orderID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("restexec: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return &submitError{status: 0, body: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &submitError{status: resp.StatusCode, body: string(b)}
	}
	return nil
}

// PushEvent injects a lifecycle event onto Events(), called by whatever
// out-of-band notification path (websocket, polling loop) the venue
// integration uses to learn of acks, fills, rejects, and cancels.
func (a *Adapter) PushEvent(ev ports.ExecutionEvent) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.log.Warn("execution event channel full, dropping event", "kind", ev.Kind, "orderId", ev.OrderID)
	}
}

// Close shuts down the Events() stream. Safe to call once.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.events)
}
