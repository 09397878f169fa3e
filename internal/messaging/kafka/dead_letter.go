package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// ErrNotDeadLetter — сообщение в DLQ не похоже на outbox-конверт с DeadLetter.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DecodeDeadLetter разбирает сообщение DLQ, опубликованное outbox-воркером.
func DecodeDeadLetter(value []byte) (domain.DeadLetter, error) {
	var envelope outboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("%w: %v", ErrNotDeadLetter, err)
	}
	if len(envelope.Payload) == 0 {
		return domain.DeadLetter{}, fmt.Errorf("%w: empty payload", ErrNotDeadLetter)
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
	}
	if len(letter.Payload) == 0 {
		return domain.DeadLetter{}, errors.New("dead letter does not contain the original event payload")
	}

	if letter.OutboxID == "" {
		letter.OutboxID = envelope.ID
	}
	if letter.AggregateType == "" {
		letter.AggregateType = envelope.AggregateType
	}
	if letter.AggregateID == "" {
		letter.AggregateID = envelope.AggregateID
	}
	if letter.EventType == "" {
		letter.EventType = envelope.EventType
	}
	return letter, nil
}
