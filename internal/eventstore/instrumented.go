package eventstore

import (
	"context"
	"time"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// instrumented wraps a ports.EventStore to record the
// event_store_append_duration_seconds{driver} and
// event_store_read_duration_seconds{driver, mode} histograms, without
// changing any backend's own Append/Read logic.
type instrumented struct {
	ports.EventStore
	driver  string
	metrics ports.MetricsSink
}

// Instrument wraps store so every Append/Read call is timed into metrics
// under the given driver label. metrics may be nil, in which case the
// store is returned unwrapped.
func Instrument(store ports.EventStore, driver string, metrics ports.MetricsSink) ports.EventStore {
	if metrics == nil {
		return store
	}
	return &instrumented{EventStore: store, driver: driver, metrics: metrics}
}

func (i *instrumented) Append(ctx context.Context, events ...domain.DomainEvent) error {
	start := time.Now()
	err := i.EventStore.Append(ctx, events...)
	i.metrics.ObserveHistogram("event_store_append_duration_seconds",
		map[string]string{"driver": i.driver}, time.Since(start).Seconds())
	return err
}

func (i *instrumented) Read(ctx context.Context, after int64) ([]domain.DomainEvent, error) {
	mode := "incremental"
	if after == 0 {
		mode = "full"
	}
	start := time.Now()
	events, err := i.EventStore.Read(ctx, after)
	i.metrics.ObserveHistogram("event_store_read_duration_seconds",
		map[string]string{"driver": i.driver, "mode": mode}, time.Since(start).Seconds())
	return events, err
}
