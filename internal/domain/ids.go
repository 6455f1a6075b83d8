package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewID mints a UUIDv4 for any domain object that needs one. Every
// DomainEvent, OrderNew, and generated pair/request id goes through this
// helper so the ID format stays consistent across the module.
func NewID() string {
	return uuid.New().String()
}

// TsMillis converts a time.Time into the millisecond-since-epoch timestamp
// every event and tick carries, as reported by the active clock.
func TsMillis(t time.Time) int64 {
	return t.UnixMilli()
}
