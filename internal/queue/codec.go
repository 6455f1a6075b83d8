package queue

import (
	"github.com/segmentio/encoding/json"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// encode serializes a DomainEvent to the bytes a ring slot holds.
func encode(e domain.DomainEvent) ([]byte, error) {
	return json.Marshal(e)
}

// decode is the inverse of encode.
func decode(payload []byte) (domain.DomainEvent, error) {
	var e domain.DomainEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return domain.DomainEvent{}, err
	}
	return e, nil
}
