package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// orderTracking is one order's progress through submit→ack→fill, each
// stage stamped when observed.
type orderTracking struct {
	submittedAt time.Time
	ackedAt     time.Time
	filledAt    time.Time
	flagged     bool
}

// reconciler flags orders that left the adapter but haven't acked within
// ackTimeoutMs, or acked but haven't filled within fillTimeoutMs. It
// never cancels automatically; it only counts and warns.
type reconciler struct {
	clock         ports.Clock
	ackTimeoutMs  int64
	fillTimeoutMs int64

	mu       sync.Mutex
	tracking map[string]orderTracking
	stale    int64
}

func newReconciler(clock ports.Clock, ackTimeoutMs, fillTimeoutMs int64) *reconciler {
	return &reconciler{
		clock:         clock,
		ackTimeoutMs:  ackTimeoutMs,
		fillTimeoutMs: fillTimeoutMs,
		tracking:      make(map[string]orderTracking),
	}
}

func (r *reconciler) trackSubmitted(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracking[orderID] = orderTracking{submittedAt: r.clock.Now()}
}

func (r *reconciler) trackAcked(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracking[orderID]
	if !ok {
		return
	}
	t.ackedAt = r.clock.Now()
	r.tracking[orderID] = t
}

func (r *reconciler) trackFilled(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracking[orderID]
	if !ok {
		return
	}
	t.filledAt = r.clock.Now()
	r.tracking[orderID] = t
}

// drop removes an order from tracking: it terminated (reject or cancel)
// and reconciliation no longer applies.
func (r *reconciler) drop(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracking, orderID)
}

// StaleCount returns the number of orders flagged stale since start.
func (r *reconciler) StaleCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

func (r *reconciler) run(ctx context.Context, log *slog.Logger) {
	const sweepInterval = 500 * time.Millisecond
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(log)
		}
	}
}

func (r *reconciler) sweep(log *slog.Logger) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for orderID, t := range r.tracking {
		if t.flagged {
			continue
		}
		switch {
		case t.ackedAt.IsZero() && r.ackTimeoutMs > 0 && now.Sub(t.submittedAt) > time.Duration(r.ackTimeoutMs)*time.Millisecond:
			r.stale++
			t.flagged = true
			r.tracking[orderID] = t
			log.Warn("order stale: no ack within timeout", "orderId", orderID, "waitedMs", now.Sub(t.submittedAt).Milliseconds())
		case !t.ackedAt.IsZero() && t.filledAt.IsZero() && r.fillTimeoutMs > 0 && now.Sub(t.ackedAt) > time.Duration(r.fillTimeoutMs)*time.Millisecond:
			r.stale++
			t.flagged = true
			r.tracking[orderID] = t
			log.Warn("order stale: acked but unfilled within timeout", "orderId", orderID, "waitedMs", now.Sub(t.ackedAt).Milliseconds())
		}
	}
}
