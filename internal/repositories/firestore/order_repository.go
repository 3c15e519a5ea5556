package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/furnishop/commerce/internal/domain"
	pfirestore "github.com/furnishop/commerce/internal/platform/firestore"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/repositories"
)

const (
	orderCollection     = "orders"
	defaultOrderListMax = 20

	// A status swap touches one document; contention beyond a few retries means a hot order.
	casAttempts = 3
	casTimeout  = 5 * time.Second
)

// OrderRepository persists orders in Firestore. Status changes run inside transactions so a
// concurrent writer always loses with a conflict instead of overwriting.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, orderCollection)}, nil
}

// Insert creates the order document. An existing id yields a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, encodeOrder(order))
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

// List returns orders newest first, keyed on (createdAt, id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	limit := pagination.Window(filter.Pagination.PageSize, defaultOrderListMax, 0)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(filter.CustomerID); id != "" {
			q = q.Where("customerId", "==", id)
		}
		switch id := strings.TrimSpace(filter.BranchID); {
		case id != "":
			q = q.Where("branchId", "==", id)
		case filter.Unassigned:
			q = q.Where("branchId", "==", "")
		}
		if len(filter.Statuses) > 0 {
			q = q.Where("status", "in", domain.StoredStatusValues(filter.Statuses))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.After, cursor.ID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{After: last.Data.CreatedAt, ID: last.ID})
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

// CompareAndSwapStatus applies mutate inside a transaction only while the stored status still
// equals expected.
func (r *OrderRepository) CompareAndSwapStatus(ctx context.Context, orderID string, expected domain.OrderStatus, mutate repositories.OrderMutation) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	var updated domain.Order
	_, err := r.orders.Update(ctx, orderID, func(doc *pfirestore.Document[orderDocument]) error {
		current, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return pfirestore.NewConflict("orders.cas", fmt.Errorf("order %s is %s, expected %s", orderID, current.Status, expected))
		}
		if err := mutate(&current); err != nil {
			return err
		}
		doc.Data = encodeOrder(current)
		updated = current
		return nil
	}, pfirestore.WithTxAttempts(casAttempts), pfirestore.WithTxTimeout(casTimeout))
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// HasOrderWithProduct reports whether the customer has an order containing productID whose
// status is one of statuses. Documents written before productIds existed are matched by
// scanning their items.
func (r *OrderRepository) HasOrderWithProduct(ctx context.Context, customerID, productID string, statuses []domain.OrderStatus) (bool, error) {
	customerID = strings.TrimSpace(customerID)
	productID = strings.TrimSpace(productID)
	if len(statuses) == 0 {
		return false, nil
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			Where("productIds", "array-contains", productID)
	})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if orderDocumentMatches(doc.Data, productID, statuses) {
			return true, nil
		}
	}

	legacy, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			Where("status", "in", domain.StoredStatusValues(statuses))
	})
	if err != nil {
		return false, err
	}
	for _, doc := range legacy {
		if len(doc.Data.ProductIDs) == 0 && orderDocumentMatches(doc.Data, productID, statuses) {
			return true, nil
		}
	}
	return false, nil
}

// orderDocumentMatches reports whether doc contains productID and its stored status parses to
// one of statuses.
func orderDocumentMatches(doc orderDocument, productID string, statuses []domain.OrderStatus) bool {
	status, err := domain.ParseOrderStatus(doc.Status)
	if err != nil || !slices.Contains(statuses, status) {
		return false
	}
	if slices.Contains(doc.ProductIDs, productID) {
		return true
	}
	return slices.ContainsFunc(doc.Items, func(item orderItemDocument) bool {
		return strings.TrimSpace(item.ProductID) == productID
	})
}

type orderDocument struct {
	CustomerID    string                 `firestore:"customerId"`
	BranchID      string                 `firestore:"branchId"`
	Status        string                 `firestore:"status"`
	Items         []orderItemDocument    `firestore:"items"`
	ProductIDs    []string               `firestore:"productIds"`
	StatusHistory []statusChangeDocument `firestore:"statusHistory"`
	CancelReason  string                 `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
	ConfirmedAt   *time.Time             `firestore:"confirmedAt,omitempty"`
	DeliveredAt   *time.Time             `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	Price     string `firestore:"price"`
}

type statusChangeDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId"`
	ActorRole string    `firestore:"actorRole"`
	Reason    string    `firestore:"reason,omitempty"`
	At        time.Time `firestore:"at"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:   order.CustomerID,
		BranchID:     order.BranchID,
		Status:       string(order.Status),
		CancelReason: order.CancelReason,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ConfirmedAt:  order.ConfirmedAt,
		DeliveredAt:  order.DeliveredAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price.String(),
		})
		if !slices.Contains(doc.ProductIDs, item.ProductID) {
			doc.ProductIDs = append(doc.ProductIDs, item.ProductID)
		}
	}
	for _, change := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: string(change.ActorRole),
			Reason:    change.Reason,
			At:        change.At.UTC(),
		})
	}
	return doc
}

// decodeOrder normalises stored status strings, including values written by older clients.
func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	status, err := domain.ParseOrderStatus(doc.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: document %s: %w", id, err)
	}
	order := domain.Order{
		ID:           id,
		CustomerID:   doc.CustomerID,
		BranchID:     doc.BranchID,
		Status:       status,
		CancelReason: doc.CancelReason,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ConfirmedAt:  doc.ConfirmedAt,
		DeliveredAt:  doc.DeliveredAt,
	}
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("orders: document %s: price %q: %w", id, item.Price, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     price,
		})
	}
	for _, change := range doc.StatusHistory {
		from, _ := domain.ParseOrderStatus(change.From)
		to, _ := domain.ParseOrderStatus(change.To)
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:      from,
			To:        to,
			ActorID:   change.ActorID,
			ActorRole: domain.Role(change.ActorRole),
			Reason:    change.Reason,
			At:        change.At,
		})
	}
	return order, nil
}
