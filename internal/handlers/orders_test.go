package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/services"
)

type stubOrderService struct {
	placeFn      func(context.Context, services.PlaceOrderCommand) (services.Order, error)
	getFn        func(context.Context, services.Actor, string) (services.Order, error)
	listFn       func(context.Context, services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	allowedFn    func(context.Context, services.Actor, string) ([]services.OrderStatus, error)
	deliveredFn  func(context.Context, services.Actor, string, string) (bool, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	return s.placeFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	return s.getFn(ctx, actor, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, actor, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) AllowedTransitions(ctx context.Context, actor services.Actor, orderID string) ([]services.OrderStatus, error) {
	return s.allowedFn(ctx, actor, orderID)
}

func (s *stubOrderService) HasDeliveredOrderWithProduct(ctx context.Context, actor services.Actor, customerID, productID string) (bool, error) {
	return s.deliveredFn(ctx, actor, customerID, productID)
}

var orderCreatedAt = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func sampleOrder(status domain.OrderStatus) services.Order {
	return services.Order{
		ID:         "ord-1",
		CustomerID: "cust-1",
		BranchID:   "hn-01",
		Status:     status,
		Items: []services.OrderItem{
			{ProductID: "sofa-3s", Quantity: 1, Price: decimal.RequireFromString("899.90")},
			{ProductID: "cushion", Quantity: 2, Price: decimal.RequireFromString("19.95")},
		},
		CreatedAt: orderCreatedAt,
		UpdatedAt: orderCreatedAt,
	}
}

func newOrderRouter(svc services.OrderService, identity *auth.Identity) http.Handler {
	h := NewOrderHandlers(nil, svc)
	return NewRouter(WithMiddlewares(withIdentity(identity)), WithOrderRoutes(h.Routes))
}

func TestOrderHandlers_GetOrder(t *testing.T) {
	var gotActor services.Actor
	svc := &stubOrderService{
		getFn: func(_ context.Context, actor services.Actor, orderID string) (services.Order, error) {
			gotActor = actor
			if orderID != "ord-1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return sampleOrder(domain.OrderStatusDelivered), nil
		},
	}

	rr := serve(t, newOrderRouter(svc, customerIdentity("cust-1")), http.MethodGet, "/api/orders/ord-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotActor.ID != "cust-1" || gotActor.Role != domain.RoleCustomer {
		t.Fatalf("unexpected actor %+v", gotActor)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "DELIVERED" || body["customerId"] != "cust-1" || body["branchId"] != "hn-01" {
		t.Fatalf("unexpected payload %v", body)
	}
	if body["total"] != "939.8" {
		t.Fatalf("expected decimal total as string, got %v", body["total"])
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", body["items"])
	}
	first, _ := items[0].(map[string]any)
	if first["productId"] != "sofa-3s" || first["price"] != "899.9" {
		t.Fatalf("unexpected item %v", first)
	}
}

func TestOrderHandlers_RequiresIdentity(t *testing.T) {
	svc := &stubOrderService{}
	rr := serve(t, newOrderRouter(svc, nil), http.MethodGet, "/api/orders/ord-1", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %q", env.Code)
	}
}

func TestOrderHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: ord-1", services.ErrOrderNotFound), http.StatusNotFound, "order_not_found"},
		{"forbidden", services.ErrOrderForbidden, http.StatusForbidden, "order_forbidden"},
		{"invalid state", services.ErrOrderInvalidState, http.StatusBadRequest, "order_invalid_state"},
		{"conflict", services.ErrOrderConflict, http.StatusConflict, "order_conflict"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				getFn: func(context.Context, services.Actor, string) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rr := serve(t, newOrderRouter(svc, customerIdentity("cust-1")), http.MethodGet, "/api/orders/ord-1", "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if env := decodeEnvelope(t, rr); env.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, env.Code)
			}
			if tc.status == http.StatusServiceUnavailable && rr.Header().Get("Retry-After") != "1" {
				t.Fatalf("expected Retry-After on 503")
			}
		})
	}
}

func TestOrderHandlers_ListOrdersParsesFilters(t *testing.T) {
	var got services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, _ services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(domain.OrderStatusShipping)},
				NextPageToken: "next-1",
			}, nil
		},
	}

	router := newOrderRouter(svc, staffIdentity("emp-1", domain.RoleManager, "hn-01"))
	rr := serve(t, router, http.MethodGet, "/api/orders?branchId=hn-01&status=shipping,delivered&status=Confirmed&limit=500&pageToken=tok", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.BranchID != "hn-01" || got.PageToken != "tok" {
		t.Fatalf("unexpected filter %+v", got)
	}
	if got.Limit != maxOrderPageSize {
		t.Fatalf("expected limit clamped to %d, got %d", maxOrderPageSize, got.Limit)
	}
	want := []domain.OrderStatus{domain.OrderStatusShipping, domain.OrderStatusDelivered, domain.OrderStatusConfirmed}
	if len(got.Statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got.Statuses)
	}
	for i := range want {
		if got.Statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, got.Statuses)
		}
	}

	var body struct {
		Items         []map[string]any `json:"items"`
		NextPageToken string           `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "next-1" {
		t.Fatalf("unexpected list body %+v", body)
	}
}

func TestOrderHandlers_ListOrdersRejectsBadInput(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(context.Context, services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			return domain.CursorPage[services.Order]{}, fmt.Errorf("decode: %w", pagination.ErrInvalidPageToken)
		},
	}
	router := newOrderRouter(svc, customerIdentity("cust-1"))

	for _, target := range []string{
		"/api/orders?status=teleported",
		"/api/orders?limit=abc",
		"/api/orders?limit=0",
		"/api/orders?pageToken=%25%25",
	} {
		rr := serve(t, router, http.MethodGet, target, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlers_PlaceOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	svc := &stubOrderService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			got = cmd
			order := sampleOrder(domain.OrderStatusPendingConfirmation)
			order.BranchID = ""
			return order, nil
		},
	}

	body := `{"items":[{"productId":"sofa-3s","quantity":1,"price":"899.90"}]}`
	rr := serve(t, newOrderRouter(svc, customerIdentity("cust-1")), http.MethodPost, "/api/orders", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Location") != "/api/orders/ord-1" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
	if len(got.Items) != 1 || !got.Items[0].Price.Equal(decimal.RequireFromString("899.90")) {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestOrderHandlers_PlaceOrderValidation(t *testing.T) {
	svc := &stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called for invalid payloads")
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(svc, customerIdentity("cust-1"))

	rr := serve(t, router, http.MethodPost, "/api/orders", `{"items":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Code != "invalid_input" || env.Details["items"] != "min" {
		t.Fatalf("expected items min failure, got %+v", env)
	}

	rr = serve(t, router, http.MethodPost, "/api/orders", `{"items":[{"productId":"","quantity":0,"price":"1"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	env = decodeEnvelope(t, rr)
	if env.Details["productId"] != "required" || env.Details["quantity"] != "gt" {
		t.Fatalf("expected field details, got %+v", env.Details)
	}

	rr = serve(t, router, http.MethodPost, "/api/orders", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rr.Code)
	}
}

func TestOrderHandlers_TransitionStatus(t *testing.T) {
	var got services.OrderStatusTransitionCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			got = cmd
			return sampleOrder(cmd.TargetStatus), nil
		},
	}

	router := newOrderRouter(svc, staffIdentity("mgr-1", domain.RoleManager, "hn-01"))
	rr := serve(t, router, http.MethodPost, "/api/orders/ord-1/status", `{"status":"confirmed","expectedStatus":"pending","branchId":"hn-01"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TargetStatus != domain.OrderStatusConfirmed {
		t.Fatalf("expected legacy status normalized, got %q", got.TargetStatus)
	}
	if got.ExpectedStatus == nil || *got.ExpectedStatus != domain.OrderStatusPendingConfirmation {
		t.Fatalf("expected expected status PENDING_CONFIRMATION, got %v", got.ExpectedStatus)
	}
	if got.Actor.BranchID != "hn-01" || got.BranchID != "hn-01" {
		t.Fatalf("unexpected command %+v", got)
	}

	rr = serve(t, router, http.MethodPost, "/api/orders/ord-1/status", `{"status":"lost-in-space"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

// Two racing transitions: the service lets one win and reports Conflict to the other.
func TestOrderHandlers_ConcurrentTransitionConflict(t *testing.T) {
	current := domain.OrderStatusConfirmed
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			if current != domain.OrderStatusConfirmed {
				return services.Order{}, fmt.Errorf("%w: order changed from CONFIRMED", services.ErrOrderConflict)
			}
			current = cmd.TargetStatus
			return sampleOrder(cmd.TargetStatus), nil
		},
	}

	admin := newOrderRouter(svc, &auth.Identity{UID: "adm-1", Role: domain.RoleAdmin})
	employee := newOrderRouter(svc, staffIdentity("emp-1", domain.RoleEmployee, "hn-01"))

	first := serve(t, admin, http.MethodPost, "/api/orders/ord-1/status", `{"status":"CANCELLED","reason":"customer request"}`)
	second := serve(t, employee, http.MethodPost, "/api/orders/ord-1/status", `{"status":"PACKING"}`)

	if first.Code != http.StatusOK {
		t.Fatalf("expected first transition to win, got %d", first.Code)
	}
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 for the loser, got %d", second.Code)
	}
	if env := decodeEnvelope(t, second); env.Code != "order_conflict" {
		t.Fatalf("expected order_conflict, got %q", env.Code)
	}
}

func TestOrderHandlers_AllowedTransitions(t *testing.T) {
	svc := &stubOrderService{
		allowedFn: func(context.Context, services.Actor, string) ([]services.OrderStatus, error) {
			return []services.OrderStatus{domain.OrderStatusPacking, domain.OrderStatusCancelled}, nil
		},
	}
	rr := serve(t, newOrderRouter(svc, staffIdentity("emp-1", domain.RoleEmployee, "hn-01")), http.MethodGet, "/api/orders/ord-1/transitions", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		OrderID string   `json:"orderId"`
		Allowed []string `json:"allowed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.OrderID != "ord-1" || len(body.Allowed) != 2 || body.Allowed[0] != "PACKING" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestOrderHandlers_DeliveredProduct(t *testing.T) {
	svc := &stubOrderService{
		deliveredFn: func(_ context.Context, actor services.Actor, customerID, productID string) (bool, error) {
			if actor.Role != domain.RoleService {
				t.Fatalf("expected service actor, got %+v", actor)
			}
			return customerID == "cust-1" && productID == "sofa-3s", nil
		},
	}
	service := &auth.Identity{UID: "review-service", Role: domain.RoleService, Service: true}
	rr := serve(t, newOrderRouter(svc, service), http.MethodGet, "/api/customers/cust-1/delivered-products/sofa-3s", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body deliveredProductResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Delivered || body.CustomerID != "cust-1" || body.ProductID != "sofa-3s" {
		t.Fatalf("unexpected body %+v", body)
	}
}
