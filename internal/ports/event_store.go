package ports

import (
	"context"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// EventStore is the append-only log every projection folds over. Three
// backends (in-memory, embedded sqlite, remote duckdb) implement it
// identically; callers never know which one is behind the interface.
type EventStore interface {
	// Append validates and persists one or more events. An invalid event
	// fails the whole batch. Duplicate ids are idempotently ignored.
	// Ordering within a batch is preserved.
	Append(ctx context.Context, events ...domain.DomainEvent) error

	// Read returns events strictly newer than after (by ts), in ascending
	// ts order. after=0 returns the full log.
	Read(ctx context.Context, after int64) ([]domain.DomainEvent, error)

	// Subscribe registers a new broadcast subscriber and returns a channel
	// delivering each newly appended event exactly once. A slow subscriber
	// never blocks the producer: excess events are dropped for that
	// subscriber and counted. cancel unregisters the subscriber and closes
	// the channel.
	Subscribe(ctx context.Context) (ch <-chan domain.DomainEvent, cancel func())

	// SubscriberDrops reports how many broadcast events have been dropped
	// across all subscribers because a subscriber's channel was full.
	SubscriberDrops() int64

	// Close releases the backend's resources.
	Close() error
}

// Snapshotter is an optional capability: backends that can fold the whole
// log into a single state blob and restore from it implement it.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, reduce func([]domain.DomainEvent) (any, error)) (Snapshot, error)
	Restore(ctx context.Context, snap Snapshot, restore func(any) error) error
}

// Snapshot is a point-in-time fold of the log.
type Snapshot struct {
	ID    string
	Ts    int64
	State []byte // zstd-compressed encoding of the folded state
}
