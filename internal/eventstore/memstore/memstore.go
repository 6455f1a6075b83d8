// Package memstore implements ports.EventStore entirely in memory: an
// ordered slice plus a dedup set on id. This is the backend the backtest
// harness and unit tests use — durability is out of scope by design.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/eventstore"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// subscriberBuffer is each broadcast subscriber's channel capacity; a
// subscriber further behind than this starts losing events.
const subscriberBuffer = 256

// Store is a process-local, non-durable EventStore.
type Store struct {
	mu     sync.RWMutex
	events []domain.DomainEvent
	seen   map[string]struct{}

	subMu    sync.Mutex
	subs     map[int]chan domain.DomainEvent
	nextSub  int
	subDrops int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		seen: make(map[string]struct{}),
		subs: make(map[int]chan domain.DomainEvent),
	}
}

// Append validates, dedupes by id, and appends events in order, then
// fans them out to subscribers. A validation failure fails the whole
// batch and appends nothing.
func (s *Store) Append(ctx context.Context, events ...domain.DomainEvent) error {
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("memstore.Append: %w", err)
		}
	}

	s.mu.Lock()
	var appended []domain.DomainEvent
	for _, e := range events {
		if _, dup := s.seen[e.ID]; dup {
			continue
		}
		s.seen[e.ID] = struct{}{}
		s.events = append(s.events, e)
		appended = append(appended, e)
	}
	s.mu.Unlock()

	for _, e := range appended {
		s.broadcast(e)
	}
	return nil
}

// Read returns events with Ts > after, in ascending Ts order (the slice
// is already append-ordered, which for monotonic timestamps is the same
// order).
func (s *Store) Read(ctx context.Context, after int64) ([]domain.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DomainEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.Ts > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// Subscribe registers a new broadcast subscriber.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.DomainEvent, func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan domain.DomainEvent, subscriberBuffer)
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) broadcast(e domain.DomainEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber: drop rather than block the producer.
			atomic.AddInt64(&s.subDrops, 1)
		}
	}
}

// SubscriberDrops reports how many broadcast events have been dropped
// across all subscribers because a subscriber's channel was full.
func (s *Store) SubscriberDrops() int64 { return atomic.LoadInt64(&s.subDrops) }

// CreateSnapshot folds the current log into a compressed state blob;
// memstore is the backend backtests snapshot from, so the shared helper
// does all the work.
func (s *Store) CreateSnapshot(ctx context.Context, reduce func([]domain.DomainEvent) (any, error)) (ports.Snapshot, error) {
	return eventstore.CreateSnapshot(ctx, s, reduce)
}

// Restore applies snap's state through restore, then replaces the log
// prefix: events at or before snap.Ts are dropped, events strictly newer
// are retained.
func (s *Store) Restore(ctx context.Context, snap ports.Snapshot, restore func(any) error) error {
	if err := eventstore.Restore(snap, restore); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]domain.DomainEvent, 0, len(s.events))
	seen := make(map[string]struct{}, len(s.events))
	for _, e := range s.events {
		if e.Ts <= snap.Ts {
			continue
		}
		kept = append(kept, e)
		seen[e.ID] = struct{}{}
	}
	s.events = kept
	s.seen = seen
	return nil
}

// Close releases resources; memstore holds none beyond process memory.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return nil
}
