package ports

import "github.com/alejandrodnm/tradeflow/internal/domain"

// EventPublisher is the seam the (external, out-of-scope) HTTP/SSE control
// plane subscribes through: a feed of newly appended events, and a way to
// replay the log entries a client missed. The engine only depends on this
// interface; the actual HTTP surface lives outside this module.
type EventPublisher interface {
	PublishEvent(e domain.DomainEvent)
	PublishLogEntries(events []domain.DomainEvent)
}
