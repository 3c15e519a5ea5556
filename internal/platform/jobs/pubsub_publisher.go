// Package jobs publishes order and review domain events to Pub/Sub for downstream consumers
// such as inventory release and notification workers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/furnishop/commerce/internal/services"
)

const schemaVersion = "1"

// PubSubEventPublisher publishes domain events to one topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var (
	_ services.OrderEventPublisher  = (*PubSubEventPublisher)(nil)
	_ services.ReviewEventPublisher = (*PubSubEventPublisher)(nil)
)

// NewPubSubEventPublisher constructs a publisher for topic.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   uuid.NewString,
	}, nil
}

type envelope struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	Version    string    `json:"version"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type orderEventData struct {
	OrderID        string         `json:"orderId"`
	CustomerID     string         `json:"customerId"`
	BranchID       string         `json:"branchId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	ActorRole      string         `json:"actorRole,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type reviewEventData struct {
	ReviewID   string `json:"reviewId"`
	ProductID  string `json:"productId"`
	CustomerID string `json:"customerId"`
	Rating     int    `json:"rating"`
}

// PublishOrderEvent publishes an order lifecycle event. The inventoryRelease attribute lets the
// inventory service filter its subscription without decoding payloads.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	attrs := map[string]string{}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "branchId", event.BranchID)
	setAttr(attrs, "status", event.CurrentStatus)
	if release, _ := event.Metadata["inventoryRelease"].(bool); release {
		attrs["inventoryRelease"] = "true"
	}
	return p.publish(ctx, event.Type, event.OccurredAt, attrs, orderEventData{
		OrderID:        event.OrderID,
		CustomerID:     event.CustomerID,
		BranchID:       event.BranchID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		ActorRole:      event.ActorRole,
		Metadata:       event.Metadata,
	})
}

// PublishReviewEvent publishes a review lifecycle event.
func (p *PubSubEventPublisher) PublishReviewEvent(ctx context.Context, event services.ReviewEvent) error {
	attrs := map[string]string{}
	setAttr(attrs, "reviewId", event.ReviewID)
	setAttr(attrs, "productId", event.ProductID)
	return p.publish(ctx, event.Type, event.OccurredAt, attrs, reviewEventData{
		ReviewID:   event.ReviewID,
		ProductID:  event.ProductID,
		CustomerID: event.CustomerID,
		Rating:     event.Rating,
	})
}

func (p *PubSubEventPublisher) publish(ctx context.Context, eventType string, occurredAt time.Time, attrs map[string]string, data any) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return errors.New("pubsub event publisher: event type is required")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	eventID := p.newID()
	payload, err := p.marshal(envelope{
		EventID:    eventID,
		Type:       eventType,
		Version:    schemaVersion,
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	attrs["eventId"] = eventID
	attrs["eventType"] = eventType

	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
