package ports

import "time"

// Clock is the time capability every component that reads the wall clock
// or sleeps takes instead of calling time.Now/time.Sleep directly, so
// tests can inject a ManualClock and drive retry backoff, cooldowns, and
// reconnect pacing deterministically.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed according to
	// this clock. On a real clock this is time.After; on a manual clock it
	// fires the next time the clock advances past now+d.
	After(d time.Duration) <-chan time.Time
}
