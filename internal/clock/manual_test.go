package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceToMovesNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	require.Equal(t, start, c.Now())

	next := start.Add(5 * time.Second)
	require.NoError(t, c.AdvanceTo(next))
	require.Equal(t, next, c.Now())
}

func TestManual_AdvanceToBackwardsIsAnError(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	require.NoError(t, c.AdvanceTo(start.Add(time.Second)))

	err := c.AdvanceTo(start)
	require.Error(t, err)
	require.Equal(t, start.Add(time.Second), c.Now())
}

func TestManual_AfterFiresOnceDeadlineElapses(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	ch := c.After(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("should not fire before the clock advances")
	default:
	}

	require.NoError(t, c.AdvanceTo(start.Add(time.Second)))
	select {
	case <-ch:
		t.Fatal("should not fire before the deadline")
	default:
	}

	require.NoError(t, c.AdvanceTo(start.Add(2*time.Second)))
	select {
	case fired := <-ch:
		require.Equal(t, start.Add(2*time.Second), fired)
	default:
		t.Fatal("expected the waiter to fire")
	}
}

func TestManual_AfterZeroOrNegativeFiresImmediately(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	ch := c.After(0)
	select {
	case fired := <-ch:
		require.Equal(t, start, fired)
	default:
		t.Fatal("expected immediate fire for a zero delay")
	}

	ch = c.After(-time.Second)
	select {
	case fired := <-ch:
		require.Equal(t, start, fired)
	default:
		t.Fatal("expected immediate fire for a negative delay")
	}
}
