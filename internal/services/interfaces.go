package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/furnishop/commerce/internal/domain"
)

// Domain aliases keep handler signatures short.
type (
	Order       = domain.Order
	OrderItem   = domain.OrderItem
	OrderStatus = domain.OrderStatus
	Dispute     = domain.Dispute
	Review      = domain.Review
	Actor       = domain.Actor
)

// OrderService owns the order aggregate: checkout intake, status transitions and the read facade.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	AllowedTransitions(ctx context.Context, actor Actor, orderID string) ([]OrderStatus, error)
	HasDeliveredOrderWithProduct(ctx context.Context, actor Actor, customerID, productID string) (bool, error)
}

// DisputeService validates eligibility against the order service and manages dispute lifecycle.
type DisputeService interface {
	OpenDispute(ctx context.Context, cmd OpenDisputeCommand) (Dispute, error)
	GetDispute(ctx context.Context, actor Actor, disputeID string) (Dispute, error)
	ListDisputes(ctx context.Context, actor Actor, filter DisputeListFilter) (domain.CursorPage[Dispute], error)
	UpdateDisputeStatus(ctx context.Context, cmd UpdateDisputeStatusCommand) (Dispute, error)
}

// ReviewService validates purchase eligibility and stores one review per customer and product.
type ReviewService interface {
	CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListProductReviews(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[Review], error)
}

// OrderReader is the read-only view of the order service consumed by the validators. Errors
// implement repositories.RepositoryError so unavailability can be told apart from absence.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, customerID string, limit int) ([]Order, error)
	HasDeliveredOrderWithProduct(ctx context.Context, customerID, productID string) (bool, error)
}

// PlaceOrderCommand records a checkout handed over by the storefront.
type PlaceOrderCommand struct {
	Actor Actor
	Items []PlaceOrderItem
}

// PlaceOrderItem is one checkout line.
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// OrderListFilter narrows order listings through the facade.
type OrderListFilter struct {
	CustomerID string
	BranchID   string
	Statuses   []OrderStatus
	Limit      int
	PageToken  string
}

// OrderStatusTransitionCommand requests a status change.
type OrderStatusTransitionCommand struct {
	Actor          Actor
	OrderID        string
	TargetStatus   OrderStatus
	ExpectedStatus *OrderStatus
	BranchID       string
	Reason         string
}

// OpenDisputeCommand is a customer's dispute submission.
type OpenDisputeCommand struct {
	Actor   Actor
	OrderID string
	Type    string
	Reason  string
}

// DisputeListFilter narrows dispute listings.
type DisputeListFilter struct {
	Status     string
	OrderID    string
	Pagination domain.Pagination
}

// UpdateDisputeStatusCommand moves a dispute along its lifecycle.
type UpdateDisputeStatusCommand struct {
	Actor      Actor
	DisputeID  string
	Status     string
	Resolution string
}

// CreateReviewCommand is a customer's review submission.
type CreateReviewCommand struct {
	Actor     Actor
	ProductID string
	Rating    int
	Comment   string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	CustomerID     string
	BranchID       string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	ActorRole      string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// DisputeEventPublisher publishes dispute lifecycle events.
type DisputeEventPublisher interface {
	PublishDisputeEvent(ctx context.Context, event DisputeEvent) error
}

// DisputeEvent captures metadata for dispute lifecycle events.
type DisputeEvent struct {
	Type           string
	DisputeID      string
	Reference      string
	OrderID        string
	CustomerID     string
	BranchID       string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
}

// ReviewEventPublisher publishes review lifecycle events.
type ReviewEventPublisher interface {
	PublishReviewEvent(ctx context.Context, event ReviewEvent) error
}

// ReviewEvent captures metadata for review lifecycle events.
type ReviewEvent struct {
	Type       string
	ReviewID   string
	ProductID  string
	CustomerID string
	Rating     int
	OccurredAt time.Time
}

// Logger receives structured service events. Implementations adapt to zap in main.
type Logger func(ctx context.Context, event string, fields map[string]any)

// TransitionMetrics records transition attempts by outcome.
type TransitionMetrics interface {
	ObserveTransition(from, to OrderStatus, outcome string)
}

// EligibilityMetrics records eligibility decisions made by the validators.
type EligibilityMetrics interface {
	ObserveEligibility(validator, mode, outcome string)
}
