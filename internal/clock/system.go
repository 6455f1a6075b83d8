// Package clock provides the two Clock implementations every time-reading
// component is built against: a real wall-clock for live trading, and a
// ManualClock the backtest harness and component tests drive deterministically.
package clock

import "time"

// System is the real wall clock, implementing ports.Clock over the
// standard library.
type System struct{}

func (System) Now() time.Time                         { return time.Now() }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
