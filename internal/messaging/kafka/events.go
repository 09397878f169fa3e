package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// EventType определяет тип события
type EventType string

// EventTypeOrderPlaced публикуется для каждого заказа, созданного покупкой.
const EventTypeOrderPlaced EventType = domain.EventTypeOrderPlaced

// Topics для Kafka
const (
	TopicOrderEvents     = "marketplace.order.events"
	TopicDeadLetterQueue = "marketplace.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OrderPlacedEvent — payload события order.placed.
type OrderPlacedEvent struct {
	EventType     EventType         `json:"event_type"`
	OrderID       int               `json:"order_id"`
	ConsumerID    int               `json:"consumer_id"`
	SellerID      int               `json:"seller_id"`
	Products      map[int]int       `json:"products"`
	Total         domain.Money      `json:"total"`
	PaymentMethod string            `json:"payment_method"`
	Status        string            `json:"status"`
	PlacedAt      time.Time         `json:"placed_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewOrderPlacedEvent строит событие по созданному заказу.
func NewOrderPlacedEvent(order domain.Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		EventType:     EventTypeOrderPlaced,
		OrderID:       order.ID,
		ConsumerID:    order.ConsumerID,
		SellerID:      order.SellerID,
		Products:      order.Clone().Products,
		Total:         order.Total,
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		PlacedAt:      order.Timestamp.UTC(),
	}
}

// OutboxMessage упаковывает событие в сообщение transactional outbox.
func (e OrderPlacedEvent) OutboxMessage() (domain.OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order placed event: %w", err)
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   fmt.Sprintf("%d", e.OrderID),
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}
