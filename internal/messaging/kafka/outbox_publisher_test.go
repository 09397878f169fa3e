package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			t.Errorf("expected key 42, got %q", key)
		}
		if len(msg.Headers) != 3 {
			t.Errorf("expected 3 headers, got %d", len(msg.Headers))
		}

		raw, _ := msg.Value.Encode()
		var envelope outboxEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if envelope.EventType != domain.EventTypeOrderPlaced {
			t.Errorf("unexpected event type %q", envelope.EventType)
		}
		return nil
	})

	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-outbox-publisher-test"))
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "42",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":42}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerFromSync(mockProducer, nil)
	publisher := NewOutboxPublisher(producer, TopicOrderEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "7",
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":7}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_RejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicOrderEvents)

	err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3", Payload: []byte("{broken")})
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestOrderPlacedEvent_OutboxMessage(t *testing.T) {
	t.Parallel()

	order := domain.Order{
		ID:            9,
		ConsumerID:    1,
		SellerID:      2,
		Products:      map[int]int{5: 3},
		Total:         domain.MoneyFromInt(30),
		PaymentMethod: domain.PaymentMethodBoleto,
		Status:        domain.OrderStatusPlaced,
		Timestamp:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	msg, err := NewOrderPlacedEvent(order).OutboxMessage()
	if err != nil {
		t.Fatalf("build outbox message: %v", err)
	}
	if msg.AggregateID != "9" || msg.AggregateType != domain.AggregateTypeOrder {
		t.Fatalf("unexpected aggregate: %+v", msg)
	}

	var decoded OrderPlacedEvent
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Products[5] != 3 || decoded.SellerID != 2 || decoded.PaymentMethod != "BOLETO" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if !decoded.Total.Equal(domain.MoneyFromInt(30)) {
		t.Fatalf("unexpected total %s", decoded.Total)
	}
}
