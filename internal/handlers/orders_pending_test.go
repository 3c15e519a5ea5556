package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/repositories"
	"github.com/furnishop/commerce/internal/services"
)

type missingOrderError struct{}

func (missingOrderError) Error() string       { return "order not found" }
func (missingOrderError) IsNotFound() bool    { return true }
func (missingOrderError) IsConflict() bool    { return false }
func (missingOrderError) IsUnavailable() bool { return false }

// pendingOrderRepo filters listings the way the Firestore query does.
type pendingOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func (r *pendingOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *pendingOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, missingOrderError{}
	}
	return order, nil
}

func (r *pendingOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := domain.CursorPage[domain.Order]{}
	for _, order := range r.orders {
		switch {
		case filter.CustomerID != "" && order.CustomerID != filter.CustomerID:
			continue
		case filter.BranchID != "" && order.BranchID != filter.BranchID:
			continue
		case filter.Unassigned && order.BranchID != "":
			continue
		case len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status):
			continue
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *pendingOrderRepo) CompareAndSwapStatus(_ context.Context, orderID string, _ domain.OrderStatus, mutate repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, missingOrderError{}
	}
	if err := mutate(&order); err != nil {
		return domain.Order{}, err
	}
	r.orders[orderID] = order
	return order, nil
}

func (r *pendingOrderRepo) HasOrderWithProduct(context.Context, string, string, []domain.OrderStatus) (bool, error) {
	return false, nil
}

func TestOrderHandlers_ManagerSeesUnassignedPendingOrder(t *testing.T) {
	repo := &pendingOrderRepo{orders: map[string]domain.Order{
		"ord-9": {
			ID:         "ord-9",
			CustomerID: "cust-1",
			Status:     domain.OrderStatusPendingConfirmation,
			Items:      []domain.OrderItem{{ProductID: "sofa-3s", Quantity: 1, Price: decimal.RequireFromString("899.90")}},
			CreatedAt:  orderCreatedAt,
			UpdatedAt:  orderCreatedAt,
		},
		"ord-10": {
			ID:         "ord-10",
			CustomerID: "cust-2",
			BranchID:   "hcm-02",
			Status:     domain.OrderStatusPacking,
			CreatedAt:  orderCreatedAt,
		},
	}}
	svc, err := services.NewOrderService(services.OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	manager := newOrderRouter(svc, staffIdentity("mgr-1", domain.RoleManager, "hn-01"))

	rr := serve(t, manager, http.MethodGet, "/api/orders/ord-9", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("manager get: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, manager, http.MethodGet, "/api/orders/ord-9/transitions", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("manager transitions: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var allowed allowedTransitionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &allowed); err != nil {
		t.Fatalf("decode transitions: %v", err)
	}
	if !slices.Equal(allowed.Allowed, []string{"CONFIRMED"}) {
		t.Fatalf("expected CONFIRMED to be allowed, got %v", allowed.Allowed)
	}

	rr = serve(t, manager, http.MethodGet, "/api/orders?status=PENDING_CONFIRMATION", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("manager list: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var list struct {
		Items []orderPayload `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != "ord-9" {
		t.Fatalf("expected the unassigned pending order, got %+v", list.Items)
	}

	if rr := serve(t, manager, http.MethodGet, "/api/orders/ord-10", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("other branch order: expected 403, got %d", rr.Code)
	}
	employee := newOrderRouter(svc, staffIdentity("emp-1", domain.RoleEmployee, "hn-01"))
	if rr := serve(t, employee, http.MethodGet, "/api/orders/ord-9", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("employee get: expected 403, got %d", rr.Code)
	}

	rr = serve(t, manager, http.MethodPost, "/api/orders/ord-9/status", `{"status":"CONFIRMED"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("manager confirm: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var confirmed orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if confirmed.BranchID != "hn-01" || confirmed.Status != "CONFIRMED" {
		t.Fatalf("expected order claimed by hn-01, got %+v", confirmed)
	}
	if rr := serve(t, manager, http.MethodGet, "/api/orders/ord-9", ""); rr.Code != http.StatusOK {
		t.Fatalf("manager get after confirm: expected 200, got %d", rr.Code)
	}
}
