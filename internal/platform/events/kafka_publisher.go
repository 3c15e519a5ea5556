// Package events publishes dispute lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/services"
)

const defaultWriteTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDisputePublisher writes dispute events keyed by order id, so every event of one order
// lands on the same partition in order.
type KafkaDisputePublisher struct {
	writer MessageWriter
	newID  func() string
	now    func() time.Time
}

var _ services.DisputeEventPublisher = (*KafkaDisputePublisher)(nil)

// NewKafkaWriter builds a writer for the configured dispute topic.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("events: at least one kafka broker is required")
	}
	topic := strings.TrimSpace(cfg.DisputeTopic)
	if topic == "" {
		return nil, errors.New("events: dispute topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: defaultWriteTimeout,
	}, nil
}

func NewKafkaDisputePublisher(writer MessageWriter) (*KafkaDisputePublisher, error) {
	if writer == nil {
		return nil, errors.New("events: kafka writer is required")
	}
	return &KafkaDisputePublisher{writer: writer, newID: uuid.NewString, now: time.Now}, nil
}

type disputeMessage struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	DisputeID      string    `json:"disputeId"`
	Reference      string    `json:"reference"`
	OrderID        string    `json:"orderId"`
	CustomerID     string    `json:"customerId"`
	BranchID       string    `json:"branchId"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	ActorID        string    `json:"actorId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (p *KafkaDisputePublisher) PublishDisputeEvent(ctx context.Context, event services.DisputeEvent) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("events: event type is required")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = p.now()
	}
	eventID := p.newID()

	value, err := json.Marshal(disputeMessage{
		EventID:        eventID,
		Type:           event.Type,
		DisputeID:      event.DisputeID,
		Reference:      event.Reference,
		OrderID:        event.OrderID,
		CustomerID:     event.CustomerID,
		BranchID:       event.BranchID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     occurred.UTC(),
	})
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
		Time:  occurred,
		Headers: []kafka.Header{
			{Key: "eventId", Value: []byte(eventID)},
			{Key: "eventType", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: write %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaDisputePublisher) Close() error {
	return p.writer.Close()
}
