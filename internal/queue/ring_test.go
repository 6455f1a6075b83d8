package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRingBuffer_WraparoundCapacityOne: capacity 1, first enqueue
// succeeds, second refuses, and after one dequeue the slot is reusable.
func TestRingBuffer_WraparoundCapacityOne(t *testing.T) {
	rb := NewRingBuffer(1, 256)

	ok, err := rb.Enqueue([]byte("first"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rb.Enqueue([]byte("second"))
	require.NoError(t, err)
	require.False(t, ok, "full ring must refuse without blocking")

	batch := rb.DequeueBatch(10, 0)
	require.Len(t, batch, 1)
	require.Equal(t, []byte("first"), batch[0])

	ok, err = rb.Enqueue([]byte("second"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRingBuffer_PayloadTooLarge(t *testing.T) {
	rb := NewRingBuffer(4, 16)

	ok, err := rb.Enqueue(make([]byte, 13)) // 13 + 4-byte prefix > 16
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.False(t, ok)
	require.EqualValues(t, 0, rb.Size())

	ok, err = rb.Enqueue(make([]byte, 12))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRingBuffer_PreservesFIFOOrder(t *testing.T) {
	rb := NewRingBuffer(8, 64)
	for i := 0; i < 5; i++ {
		ok, err := rb.Enqueue([]byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.EqualValues(t, 5, rb.Size())

	batch := rb.DequeueBatch(3, 0)
	require.Len(t, batch, 3)
	for i, payload := range batch {
		require.Equal(t, []byte{byte(i)}, payload)
	}

	batch = rb.DequeueBatch(10, 0)
	require.Len(t, batch, 2)
	require.Equal(t, []byte{3}, batch[0])
	require.Equal(t, []byte{4}, batch[1])
	require.EqualValues(t, 0, rb.Size())
}

func TestRingBuffer_DequeueWaitsForProducer(t *testing.T) {
	rb := NewRingBuffer(4, 64)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = rb.Enqueue([]byte("late"))
	}()

	batch := rb.DequeueBatch(1, time.Second)
	require.Len(t, batch, 1)
	require.Equal(t, []byte("late"), batch[0])
}

func TestRingBuffer_ShutdownWakesConsumer(t *testing.T) {
	rb := NewRingBuffer(4, 64)

	done := make(chan [][]byte, 1)
	go func() { done <- rb.DequeueBatch(1, time.Minute) }()

	time.Sleep(10 * time.Millisecond)
	rb.Shutdown()

	select {
	case batch := <-done:
		require.Empty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake on shutdown")
	}
	require.True(t, rb.IsShutdown())
}
