package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/httpx"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/services"
)

const (
	maxOrderPageSize       = 100
	maxOrderBodySize int64 = 32 * 1024
)

type placeOrderRequest struct {
	Items []placeOrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type placeOrderItemRequest struct {
	ProductID string          `json:"productId" validate:"required,max=128"`
	Quantity  int             `json:"quantity" validate:"gt=0,lte=1000"`
	Price     decimal.Decimal `json:"price" validate:"-"`
}

type transitionOrderRequest struct {
	Status         string `json:"status" validate:"required"`
	ExpectedStatus string `json:"expectedStatus"`
	BranchID       string `json:"branchId" validate:"max=64"`
	Reason         string `json:"reason" validate:"max=500"`
}

// OrderHandlers exposes the order store and its read facade.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the order endpoints relative to the API base path. Every route requires a
// Firebase ID token or a service token.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{orderId}", h.getOrder)
		r.Post("/orders/{orderId}/status", h.transitionOrder)
		r.Get("/orders/{orderId}/transitions", h.allowedTransitions)
		r.Get("/customers/{customerId}/delivered-products/{productId}", h.deliveredProduct)
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.Actor(), orderID)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, err := pagination.ParseLimit(query.Get("limit"), maxOrderPageSize)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range splitFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.orders.ListOrders(ctx, identity.Actor(), services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customerId")),
		BranchID:   strings.TrimSpace(query.Get("branchId")),
		Statuses:   statuses,
		Limit:      limit,
		PageToken:  strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeRequest(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	items := make([]services.PlaceOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.PlaceOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor: identity.Actor(),
		Items: items,
	})
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeRequest(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status", http.StatusBadRequest))
		return
	}
	cmd := services.OrderStatusTransitionCommand{
		Actor:        identity.Actor(),
		OrderID:      orderID,
		TargetStatus: target,
		BranchID:     strings.TrimSpace(req.BranchID),
		Reason:       strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expectedStatus must be a known order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) allowedTransitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	next, err := h.orders.AllowedTransitions(ctx, identity.Actor(), orderID)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	allowed := make([]string, 0, len(next))
	for _, status := range next {
		allowed = append(allowed, string(status))
	}
	httpx.WriteJSON(w, http.StatusOK, allowedTransitionsResponse{OrderID: orderID, Allowed: allowed})
}

func (h *OrderHandlers) deliveredProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	customerID := strings.TrimSpace(chi.URLParam(r, "customerId"))
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	delivered, err := h.orders.HasDeliveredOrderWithProduct(ctx, identity.Actor(), customerID, productID)
	if err != nil {
		writeServiceError(ctx, w, "order", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deliveredProductResponse{
		CustomerID: customerID,
		ProductID:  productID,
		Delivered:  delivered,
	})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customerId"`
	BranchID      string                `json:"branchId,omitempty"`
	Status        string                `json:"status"`
	Items         []orderItemPayload    `json:"items"`
	Total         decimal.Decimal       `json:"total"`
	StatusHistory []statusChangePayload `json:"statusHistory,omitempty"`
	CancelReason  string                `json:"cancelReason,omitempty"`
	CreatedAt     string                `json:"createdAt"`
	UpdatedAt     string                `json:"updatedAt,omitempty"`
	ConfirmedAt   string                `json:"confirmedAt,omitempty"`
	DeliveredAt   string                `json:"deliveredAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type statusChangePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actorId"`
	ActorRole string `json:"actorRole"`
	Reason    string `json:"reason,omitempty"`
	At        string `json:"at"`
}

type allowedTransitionsResponse struct {
	OrderID string   `json:"orderId"`
	Allowed []string `json:"allowed"`
}

type deliveredProductResponse struct {
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`
	Delivered  bool   `json:"delivered"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		BranchID:     order.BranchID,
		Status:       string(order.Status),
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		Total:        order.Total(),
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ConfirmedAt:  formatTimePtr(order.ConfirmedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: string(change.ActorRole),
			Reason:    change.Reason,
			At:        formatTime(change.At),
		})
	}
	return payload
}

// splitFilterValues accepts both repeated parameters and comma separated lists.
func splitFilterValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
