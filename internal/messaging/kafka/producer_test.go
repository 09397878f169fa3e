package kafka

import (
	"slices"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			t.Errorf("unexpected headers: %+v", msg.Headers)
		}
		return nil
	})

	event := map[string]any{"order_id": 1}
	err := producer.PublishEvent(TopicOrderEvents, "1", event, map[string]string{HeaderEventType: string(EventTypeOrderPlaced)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "1", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	err := producer.PublishEvent(TopicOrderEvents, "1", make(chan int), nil)
	if err == nil {
		t.Fatal("expected marshal error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_HeadersAreSortedByName(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		got := make([]string, 0, len(msg.Headers))
		for _, h := range msg.Headers {
			got = append(got, string(h.Key))
		}
		want := []string{HeaderAggregateType, HeaderEventType, HeaderOutboxID}
		slices.Sort(want)
		if !slices.Equal(got, want) {
			t.Errorf("headers = %v, want %v", got, want)
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "7", map[string]int{"order_id": 7}, map[string]string{
		HeaderOutboxID:      "evt-7",
		HeaderEventType:     string(EventTypeOrderPlaced),
		HeaderAggregateType: "order",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := producer.PublishEvent(TopicOrderEvents, "7", nil, nil); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestNewProducerConfig(t *testing.T) {
	cfg := newProducerConfig("")
	if cfg.ClientID != defaultClientID {
		t.Fatalf("client id = %q", cfg.ClientID)
	}
	if !cfg.Producer.Idempotent || cfg.Net.MaxOpenRequests != 1 || cfg.Producer.RequiredAcks != sarama.WaitForAll {
		t.Fatalf("producer is not configured for idempotent delivery: %+v", cfg.Producer)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
	if got := newProducerConfig("svc-1").ClientID; got != "svc-1" {
		t.Fatalf("client id = %q", got)
	}
}
