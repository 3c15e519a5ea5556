package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/furnishop/commerce/internal/services"
)

func newTestPublisher(t *testing.T, topicID string) (*PubSubEventPublisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	publisher.newID = func() string { return "evt-1" }
	return publisher, srv
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

func TestPublishOrderEventFlagsInventoryRelease(t *testing.T) {
	publisher, srv := newTestPublisher(t, "order-events")

	occurred := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord-1",
		CustomerID:     "cust-1",
		BranchID:       "hn-01",
		PreviousStatus: "PACKING",
		CurrentStatus:  "CANCELLED",
		ActorID:        "admin-1",
		ActorRole:      "admin",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"inventoryRelease": true, "reason": "customer request"},
	})
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Attributes["inventoryRelease"] != "true" || msg.Attributes["eventType"] != "order.status.changed" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if msg.Attributes["eventId"] != "evt-1" || msg.Attributes["orderId"] != "ord-1" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}

	var payload struct {
		EventID    string    `json:"eventId"`
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurredAt"`
		Data       struct {
			OrderID        string         `json:"orderId"`
			PreviousStatus string         `json:"previousStatus"`
			CurrentStatus  string         `json:"currentStatus"`
			Metadata       map[string]any `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventID != "evt-1" || !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected envelope %+v", payload)
	}
	if payload.Data.PreviousStatus != "PACKING" || payload.Data.CurrentStatus != "CANCELLED" {
		t.Fatalf("unexpected data %+v", payload.Data)
	}
	if payload.Data.Metadata["reason"] != "customer request" {
		t.Fatalf("expected metadata to be carried, got %v", payload.Data.Metadata)
	}
}

func TestPublishOrderEventWithoutReleaseFlag(t *testing.T) {
	publisher, srv := newTestPublisher(t, "order-events")

	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord-2",
		CustomerID:    "cust-1",
		CurrentStatus: "PENDING_CONFIRMATION",
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["inventoryRelease"]; ok {
		t.Fatalf("inventoryRelease attribute should be absent")
	}
	if _, ok := messages[0].Attributes["branchId"]; ok {
		t.Fatalf("empty branch should not become an attribute")
	}
}

func TestPublishReviewEvent(t *testing.T) {
	publisher, srv := newTestPublisher(t, "review-events")

	if err := publisher.PublishReviewEvent(context.Background(), services.ReviewEvent{
		Type:       "review.created",
		ReviewID:   "rev-1",
		ProductID:  "sofa-1",
		CustomerID: "cust-1",
		Rating:     5,
		OccurredAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("PublishReviewEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload struct {
		Type string `json:"type"`
		Data struct {
			ReviewID string `json:"reviewId"`
			Rating   int    `json:"rating"`
		} `json:"data"`
	}
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "review.created" || payload.Data.ReviewID != "rev-1" || payload.Data.Rating != 5 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if messages[0].Attributes["productId"] != "sofa-1" {
		t.Fatalf("unexpected attributes %v", messages[0].Attributes)
	}
}

func TestPublishRequiresEventType(t *testing.T) {
	publisher, _ := newTestPublisher(t, "review-events")
	if err := publisher.PublishReviewEvent(context.Background(), services.ReviewEvent{ReviewID: "rev-1"}); err == nil {
		t.Fatalf("expected error for missing event type")
	}
}
