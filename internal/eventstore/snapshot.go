// Package eventstore provides the snapshot helpers shared by every backend:
// fold the log into an arbitrary state value, zstd-compress its JSON
// encoding into a ports.Snapshot, and decode it again on restore. memstore
// implements ports.Snapshotter on top of these helpers; sqlitestore and
// duckstore do not implement it and have no snapshot table or column.
package eventstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"

	"github.com/alejandrodnm/tradeflow/internal/domain"
	"github.com/alejandrodnm/tradeflow/internal/ports"
)

// CreateSnapshot reads the full log from store, folds it with reduce, JSON
// encodes and zstd-compresses the result, and returns a ports.Snapshot
// ready to hand to a backend's storage layer.
func CreateSnapshot(ctx context.Context, store ports.EventStore, reduce func([]domain.DomainEvent) (any, error)) (ports.Snapshot, error) {
	events, err := store.Read(ctx, 0)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("eventstore.CreateSnapshot: read log: %w", err)
	}

	state, err := reduce(events)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("eventstore.CreateSnapshot: reduce: %w", err)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("eventstore.CreateSnapshot: marshal state: %w", err)
	}

	compressed, err := compress(raw)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("eventstore.CreateSnapshot: compress: %w", err)
	}

	ts := int64(0)
	if n := len(events); n > 0 {
		ts = events[n-1].Ts
	}
	return ports.Snapshot{
		ID:    domain.NewID(),
		Ts:    ts,
		State: compressed,
	}, nil
}

// Restore decompresses snap.State, JSON-decodes it into restore's
// expected shape, and invokes restore to apply it.
func Restore(snap ports.Snapshot, restore func(any) error) error {
	raw, err := decompress(snap.State)
	if err != nil {
		return fmt.Errorf("eventstore.Restore: decompress: %w", err)
	}

	var state any
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("eventstore.Restore: unmarshal state: %w", err)
	}
	return restore(state)
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
