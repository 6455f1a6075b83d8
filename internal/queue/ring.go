// Package queue implements the shared-memory ring buffer that decouples
// hot-path event producers from durable storage, and the worker that
// drains it into an event store.
//
// The ring is strictly single-producer/single-consumer, so no CAS loop
// is needed: plain sync/atomic loads, stores, and adds on
// head/tail/size/shutdown suffice. Go's atomic operations give the
// producer's last write (the tail/size store) a happens-before
// relationship with the consumer's corresponding load, which is enough
// because there is exactly one writer and one reader of each counter.
package queue

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPayloadTooLarge is returned by Enqueue when the payload does not fit
// a slot once the 4-byte length prefix is accounted for.
var ErrPayloadTooLarge = errors.New("queue: payload too large for slot")

// RingBuffer is a fixed-capacity ring of length-prefixed byte slots. Exactly
// one goroutine may call Enqueue and exactly one goroutine may call
// DequeueBatch; this is a hard invariant, not just a performance hint.
type RingBuffer struct {
	capacity int
	slotSize int
	slots    [][]byte // capacity slots of slotSize bytes each

	head     uint64 // next slot to read, producer never touches
	tail     uint64 // next slot to write, consumer never touches
	size     int64  // atomic: number of occupied slots
	shutdown int32  // atomic: 1 once Shutdown has been called

	mu      sync.Mutex // guards cond, used only to implement the wait/notify
	notEmpty *sync.Cond
}

// NewRingBuffer allocates a ring of capacity slots, each slotSize bytes.
func NewRingBuffer(capacity, slotSize int) *RingBuffer {
	if capacity <= 0 {
		panic("queue: capacity must be > 0")
	}
	if slotSize <= 4 {
		panic("queue: slotSize must be > 4 to hold the length prefix")
	}
	rb := &RingBuffer{
		capacity: capacity,
		slotSize: slotSize,
		slots:    make([][]byte, capacity),
	}
	for i := range rb.slots {
		rb.slots[i] = make([]byte, slotSize)
	}
	rb.notEmpty = sync.NewCond(&rb.mu)
	return rb
}

// Capacity returns the number of slots.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// Size returns the current occupancy, safe to call from either side.
func (rb *RingBuffer) Size() int64 { return atomic.LoadInt64(&rb.size) }

// Enqueue writes payload into the next slot. It returns false without
// blocking if the buffer is full; the caller is expected to fall back to
// a direct, synchronous write to the event store.
func (rb *RingBuffer) Enqueue(payload []byte) (bool, error) {
	if len(payload)+4 > rb.slotSize {
		return false, ErrPayloadTooLarge
	}
	if atomic.LoadInt64(&rb.size) == int64(rb.capacity) {
		return false, nil
	}

	slot := rb.slots[rb.tail%uint64(rb.capacity)]
	binary.LittleEndian.PutUint32(slot[:4], uint32(len(payload)))
	copy(slot[4:], payload)

	rb.tail++
	atomic.AddInt64(&rb.size, 1)

	rb.mu.Lock()
	rb.notEmpty.Signal()
	rb.mu.Unlock()
	return true, nil
}

// DequeueBatch pops up to max items, waiting up to wait for at least one
// item to become available if the buffer is currently empty. Returns nil
// (not an error) if the wait times out with nothing available, or if
// Shutdown was called and the buffer has drained.
func (rb *RingBuffer) DequeueBatch(max int, wait time.Duration) [][]byte {
	if atomic.LoadInt64(&rb.size) == 0 {
		if rb.waitForItem(wait) {
			return nil
		}
	}

	var batch [][]byte
	for len(batch) < max {
		if atomic.LoadInt64(&rb.size) == 0 {
			break
		}
		slot := rb.slots[rb.head%uint64(rb.capacity)]
		n := binary.LittleEndian.Uint32(slot[:4])
		payload := make([]byte, n)
		copy(payload, slot[4:4+n])

		rb.head++
		atomic.AddInt64(&rb.size, -1)
		batch = append(batch, payload)
	}
	return batch
}

// waitForItem blocks until size > 0, shutdown is signaled, or wait elapses.
// Returns true if it timed out with nothing available.
func (rb *RingBuffer) waitForItem(wait time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(wait, func() {
		rb.mu.Lock()
		close(done)
		rb.notEmpty.Broadcast()
		rb.mu.Unlock()
	})
	defer timer.Stop()

	rb.mu.Lock()
	for atomic.LoadInt64(&rb.size) == 0 && atomic.LoadInt32(&rb.shutdown) == 0 {
		select {
		case <-done:
			rb.mu.Unlock()
			return true
		default:
		}
		rb.notEmpty.Wait()
	}
	rb.mu.Unlock()
	return atomic.LoadInt64(&rb.size) == 0
}

// Shutdown wakes any blocked DequeueBatch call so the worker can observe
// the shutdown flag and drain the remainder without waiting out its timeout.
func (rb *RingBuffer) Shutdown() {
	atomic.StoreInt32(&rb.shutdown, 1)
	rb.mu.Lock()
	rb.notEmpty.Broadcast()
	rb.mu.Unlock()
}

// IsShutdown reports whether Shutdown has been called.
func (rb *RingBuffer) IsShutdown() bool {
	return atomic.LoadInt32(&rb.shutdown) == 1
}

// HighWatermark reports whether occupancy has reached frac of capacity.
func (rb *RingBuffer) HighWatermark(frac float64) bool {
	return float64(rb.Size()) >= frac*float64(rb.capacity)
}
