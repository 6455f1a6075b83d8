// Package sqlitestore implements ports.EventStore over an embedded
// SQLite database: WAL mode, a single-writer connection pool,
// schema-on-open, and batched inserts inside one transaction, appending
// immutable events with ON CONFLICT(id) DO NOTHING.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

const schema = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;

CREATE TABLE IF NOT EXISTS events (
    id       TEXT PRIMARY KEY,
    type     TEXT NOT NULL,
    data     BLOB NOT NULL,
    ts       INTEGER NOT NULL,
    metadata BLOB
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// busyRetryAttempts bounds the linear backoff retried on SQLITE_BUSY,
// which WAL mode and a single writer should make rare but not impossible
// under the persistence worker's batch cadence.
const busyRetryAttempts = 5

// subscriberBuffer is each broadcast subscriber's channel capacity; a
// subscriber further behind than this starts losing events.
const subscriberBuffer = 256

// Store is a durable, single-process EventStore backed by modernc.org/sqlite.
type Store struct {
	db *sql.DB

	subMu    sync.Mutex
	subs     map[int]chan domain.DomainEvent
	nextSub  int
	subDrops int64
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore.Open: apply schema: %w", err)
	}

	return &Store{
		db:   db,
		subs: make(map[int]chan domain.DomainEvent),
	}, nil
}

// Append validates and persists events in one transaction, batch-upserting
// with ON CONFLICT(id) DO NOTHING so re-delivery from the ring buffer's
// fallback path is idempotent.
func (s *Store) Append(ctx context.Context, events ...domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("sqlitestore.Append: %w", err)
		}
	}

	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		err = s.appendOnce(ctx, events)
		if err == nil || !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("sqlitestore.Append: %w", err)
	}

	for _, e := range events {
		s.broadcast(e)
	}
	return nil
}

func (s *Store) appendOnce(ctx context.Context, events []domain.DomainEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, type, data, ts, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var metaBlob []byte
		if len(e.Metadata) > 0 {
			metaBlob, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", e.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), []byte(e.Data), e.Ts, metaBlob); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "locked")
}

// Read returns events with Ts > after, ascending by ts.
func (s *Store) Read(ctx context.Context, after int64) ([]domain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, data, ts, metadata FROM events
		WHERE ts > ? ORDER BY ts ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Read: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainEvent
	for rows.Next() {
		var e domain.DomainEvent
		var typ string
		var data, metaBlob []byte
		if err := rows.Scan(&e.ID, &typ, &data, &e.Ts, &metaBlob); err != nil {
			return nil, fmt.Errorf("sqlitestore.Read: scan: %w", err)
		}
		e.Type = domain.EventKind(typ)
		e.Data = data
		if len(metaBlob) > 0 {
			if err := json.Unmarshal(metaBlob, &e.Metadata); err != nil {
				return nil, fmt.Errorf("sqlitestore.Read: unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subscribe registers a new broadcast subscriber fed from Append calls
// made through this process (there is no cross-process change feed).
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
