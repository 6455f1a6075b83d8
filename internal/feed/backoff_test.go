package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay_ExponentialAndClamped(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	require.Equal(t, 100*time.Millisecond, BackoffDelay(base, max, 0, 0))
	require.Equal(t, 200*time.Millisecond, BackoffDelay(base, max, 1, 0))
	require.Equal(t, 400*time.Millisecond, BackoffDelay(base, max, 2, 0))
	require.Equal(t, time.Second, BackoffDelay(base, max, 10, 0), "clamped at max")
}

func TestBackoffDelay_JitterStaysWithinBand(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for i := 0; i < 100; i++ {
		d := BackoffDelay(base, max, 1, 0.2)
		require.GreaterOrEqual(t, d, 160*time.Millisecond)
		require.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
