package repositories

import (
	"context"
	"time"

	domain "github.com/furnishop/commerce/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation mutates a freshly read order inside the store's atomic section.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists order aggregates. The order service is the only writer.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// CompareAndSwapStatus applies mutate only while the stored status equals expected. A
	// mismatch returns a RepositoryError reporting IsConflict.
	CompareAndSwapStatus(ctx context.Context, orderID string, expected domain.OrderStatus, mutate OrderMutation) (domain.Order, error)
	HasOrderWithProduct(ctx context.Context, customerID, productID string, statuses []domain.OrderStatus) (bool, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	BranchID   string
	// Unassigned restricts the listing to orders no branch has claimed yet.
	Unassigned bool
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// DisputeRepository persists disputes owned by the dispute service.
type DisputeRepository interface {
	// Insert fails with a conflict when the order already has an active dispute.
	Insert(ctx context.Context, dispute domain.Dispute) error
	FindByID(ctx context.Context, disputeID string) (domain.Dispute, error)
	FindActiveByOrder(ctx context.Context, orderID string) (domain.Dispute, error)
	List(ctx context.Context, filter DisputeListFilter) (domain.CursorPage[domain.Dispute], error)
	// UpdateStatus writes the status change only while the stored status equals expected.
	UpdateStatus(ctx context.Context, update DisputeStatusUpdate) (domain.Dispute, error)
}

// DisputeListFilter narrows dispute listings. Empty fields are ignored.
type DisputeListFilter struct {
	CustomerID string
	BranchID   string
	OrderID    string
	Status     *domain.DisputeStatus
	Pagination domain.Pagination
}

// DisputeStatusUpdate carries an optimistic status change for a dispute.
type DisputeStatusUpdate struct {
	DisputeID  string
	Expected   domain.DisputeStatus
	Status     domain.DisputeStatus
	ReviewedBy string
	Resolution string
	ResolvedAt *time.Time
	UpdatedAt  time.Time
}

// ReviewRepository persists product reviews owned by the review service.
type ReviewRepository interface {
	// Insert fails with a conflict when the customer already reviewed the product.
	Insert(ctx context.Context, review domain.Review) error
	FindByCustomerProduct(ctx context.Context, customerID, productID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
}
