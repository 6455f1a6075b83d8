// Package xerrors defines the error taxonomy shared across the engine.
//
// Components classify failures into one of six kinds rather than matching on
// error strings, so callers can use errors.As to decide whether to retry,
// surface a rejection, or halt a stage.
package xerrors

import "fmt"

// Validation indicates a domain event or configuration value failed its
// schema. Fatal at the call site: the event is not appended, the config
// does not start the engine.
type Validation struct {
	Op  string
	Err error
}

func (e *Validation) Error() string { return fmt.Sprintf("%s: validation: %v", e.Op, e.Err) }
func (e *Validation) Unwrap() error { return e.Err }

func NewValidation(op string, err error) error {
	return &Validation{Op: op, Err: err}
}

// TransientIO indicates a recoverable failure: connection reset, HTTP 5xx or
// 429, a busy database lock. The owning component retries with backoff.
type TransientIO struct {
	Op  string
	Err error
}

func (e *TransientIO) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientIO) Unwrap() error { return e.Err }

func NewTransientIO(op string, err error) error {
	return &TransientIO{Op: op, Err: err}
}

// FatalIO indicates a non-recoverable failure: HTTP 4xx (other than 429), an
// auth failure. Surfaced as an order.reject where applicable; the circuit
// breaker counts it as a failure.
type FatalIO struct {
	Op  string
	Err error
}

func (e *FatalIO) Error() string { return fmt.Sprintf("%s: fatal: %v", e.Op, e.Err) }
func (e *FatalIO) Unwrap() error { return e.Err }

func NewFatalIO(op string, err error) error {
	return &FatalIO{Op: op, Err: err}
}

// CircuitOpen is returned by a submit call refused by an open circuit
// breaker. RetryAt is when the circuit will move to half-open.
type CircuitOpen struct {
	Adapter string
	RetryAt int64 // ms since epoch
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit open for %s, retry at %d", e.Adapter, e.RetryAt)
}

// CapacityExhausted is returned when the shared-memory queue is full. The
// caller falls back to an inline, synchronous append and increments the
// drop counter.
type CapacityExhausted struct {
	Queue string
}

func (e *CapacityExhausted) Error() string {
	return fmt.Sprintf("%s: capacity exhausted", e.Queue)
}

// InvariantViolation indicates a projection reducer detected inconsistent
// data (e.g. a balance delta mismatch). It must never be silently ignored.
type InvariantViolation struct {
	Projection string
	Detail     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: invariant violation: %s", e.Projection, e.Detail)
}
