package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/services"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishDisputeEventKeysByOrder(t *testing.T) {
	writer := &fakeWriter{}
	publisher, err := NewKafkaDisputePublisher(writer)
	if err != nil {
		t.Fatalf("NewKafkaDisputePublisher: %v", err)
	}
	publisher.newID = func() string { return "evt-9" }

	occurred := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	err = publisher.PublishDisputeEvent(context.Background(), services.DisputeEvent{
		Type:          "dispute.opened",
		DisputeID:     "dsp-1",
		Reference:     "DSP-XK2P9Q",
		OrderID:       "ord-1",
		CustomerID:    "cust-1",
		BranchID:      "hn-01",
		CurrentStatus: "OPEN",
		ActorID:       "cust-1",
		OccurredAt:    occurred,
	})
	if err != nil {
		t.Fatalf("PublishDisputeEvent: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord-1" {
		t.Fatalf("expected key ord-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[1].Value) != "dispute.opened" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	var payload disputeMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.EventID != "evt-9" || payload.Reference != "DSP-XK2P9Q" || payload.BranchID != "hn-01" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected occurredAt %s", payload.OccurredAt)
	}
}

func TestPublishDisputeEventWrapsWriterErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("kafka: leader not available")}
	publisher, _ := NewKafkaDisputePublisher(writer)

	err := publisher.PublishDisputeEvent(context.Background(), services.DisputeEvent{Type: "dispute.status.changed", OrderID: "ord-1"})
	if !errors.Is(err, writer.err) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestPublishDisputeEventRequiresType(t *testing.T) {
	publisher, _ := NewKafkaDisputePublisher(&fakeWriter{})
	if err := publisher.PublishDisputeEvent(context.Background(), services.DisputeEvent{OrderID: "ord-1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestNewKafkaWriterValidatesConfig(t *testing.T) {
	if _, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{" "}, DisputeTopic: "dispute-events"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"kafka:9092"}}); err == nil {
		t.Fatalf("expected error without topic")
	}

	writer, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"kafka-1:9092", " kafka-2:9092"}, DisputeTopic: "dispute-events"})
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	if writer.Topic != "dispute-events" || writer.Addr == nil || writer.RequiredAcks != kafka.RequireAll {
		t.Fatalf("unexpected writer %+v", writer)
	}
}

func TestCloseClosesWriter(t *testing.T) {
	writer := &fakeWriter{}
	publisher, _ := NewKafkaDisputePublisher(writer)
	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}
