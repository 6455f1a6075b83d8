// Package duckstore implements ports.EventStore as the "remote relational"
// backend, using duckdb-go/v2 through database/sql with a
// real connection pool instead of sqlitestore's single-writer constraint.
// Structurally mirrors sqlitestore (same schema, same ON CONFLICT DO
// NOTHING idempotent batch insert); the difference is the driver and the
// pool sizing, widened from sqlite's single writer to a bounded pool.
package duckstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/segmentio/encoding/json"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id       VARCHAR PRIMARY KEY,
    type     VARCHAR NOT NULL,
    data     BLOB NOT NULL,
    ts       BIGINT NOT NULL,
    metadata BLOB
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// maxOpenConns bounds the pool; DuckDB's single-process model still
// benefits from serializing writers through a small pool rather than one
// connection, since reads can proceed concurrently with an in-flight
// transaction's commit.
const maxOpenConns = 4

// subscriberBuffer is each broadcast subscriber's channel capacity; a
// subscriber further behind than this starts losing events.
const subscriberBuffer = 256

// Store is a durable EventStore backed by an embedded/remote DuckDB file.
type Store struct {
	db *sql.DB

	subMu    sync.Mutex
	subs     map[int]chan domain.DomainEvent
	nextSub  int
	subDrops int64
}

// Open creates or opens the DuckDB database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckstore.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckstore.Open: apply schema: %w", err)
	}

	return &Store{
		db:   db,
		subs: make(map[int]chan domain.DomainEvent),
	}, nil
}

// Append validates and persists events in one transaction, relying on
// ON CONFLICT DO NOTHING for idempotent re-delivery.
func (s *Store) Append(ctx context.Context, events ...domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("duckstore.Append: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckstore.Append: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, type, data, ts, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("duckstore.Append: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var metaBlob []byte
		if len(e.Metadata) > 0 {
			metaBlob, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("duckstore.Append: marshal metadata for %s: %w", e.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), []byte(e.Data), e.Ts, metaBlob); err != nil {
			return fmt.Errorf("duckstore.Append: insert %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckstore.Append: commit: %w", err)
	}

	for _, e := range events {
		s.broadcast(e)
	}
	return nil
}

// Read returns events with Ts > after, ascending by ts.
func (s *Store) Read(ctx context.Context, after int64) ([]domain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, data, ts, metadata FROM events
		WHERE ts > ? ORDER BY ts ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("duckstore.Read: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainEvent
	for rows.Next() {
		var e domain.DomainEvent
		var typ string
		var data, metaBlob []byte
		if err := rows.Scan(&e.ID, &typ, &data, &e.Ts, &metaBlob); err != nil {
			return nil, fmt.Errorf("duckstore.Read: scan: %w", err)
		}
		e.Type = domain.EventKind(typ)
		e.Data = data
		if len(metaBlob) > 0 {
			if err := json.Unmarshal(metaBlob, &e.Metadata); err != nil {
				return nil, fmt.Errorf("duckstore.Read: unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subscribe registers a new broadcast subscriber fed from local Append
// calls.
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

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return s.db.Close()
}
