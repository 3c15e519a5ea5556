package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/httpx"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/services"
)

const (
	maxDisputePageSize       = 100
	maxDisputeBodySize int64 = 16 * 1024
)

type openDisputeRequest struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
	Type    string `json:"type" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

type updateDisputeStatusRequest struct {
	Status     string `json:"status" validate:"required"`
	Resolution string `json:"resolution" validate:"max=2000"`
}

// DisputeHandlers serves dispute intake for customers and the handling workflow for staff.
type DisputeHandlers struct {
	authn       *auth.Authenticator
	disputes    services.DisputeService
	idempotency func(http.Handler) http.Handler
}

// NewDisputeHandlers constructs the dispute handlers. idempotency guards dispute creation and
// may be nil.
func NewDisputeHandlers(authn *auth.Authenticator, disputes services.DisputeService, idempotency func(http.Handler) http.Handler) *DisputeHandlers {
	return &DisputeHandlers{
		authn:       authn,
		disputes:    disputes,
		idempotency: idempotency,
	}
}

// Routes registers the /disputes endpoints relative to the API base path.
func (h *DisputeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/disputes", func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(
				domain.RoleCustomer,
				domain.RoleEmployee,
				domain.RoleManager,
				domain.RoleAdmin,
			))
		}
		create := http.Handler(http.HandlerFunc(h.openDispute))
		if h.idempotency != nil {
			create = h.idempotency(create)
		}
		r.Method(http.MethodPost, "/", create)
		r.Get("/", h.listDisputes)
		r.Get("/{disputeId}", h.getDispute)
		r.Patch("/{disputeId}/status", h.updateDisputeStatus)
	})
}

func (h *DisputeHandlers) openDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req openDisputeRequest
	if !decodeRequest(ctx, w, r, maxDisputeBodySize, &req) {
		return
	}

	dispute, err := h.disputes.OpenDispute(ctx, services.OpenDisputeCommand{
		Actor:   identity.Actor(),
		OrderID: strings.TrimSpace(req.OrderID),
		Type:    req.Type,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, "dispute", err)
		return
	}
	w.Header().Set("Location", "/api/disputes/"+dispute.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildDisputePayload(dispute))
}

func (h *DisputeHandlers) listDisputes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, err := pagination.ParseLimit(query.Get("limit"), maxDisputePageSize)
	if err != nil {
		writeServiceError(ctx, w, "dispute", err)
		return
	}

	page, err := h.disputes.ListDisputes(ctx, identity.Actor(), services.DisputeListFilter{
		Status:  strings.TrimSpace(query.Get("status")),
		OrderID: strings.TrimSpace(query.Get("orderId")),
		Pagination: domain.Pagination{
			PageSize:  limit,
			PageToken: strings.TrimSpace(query.Get("pageToken")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, "dispute", err)
		return
	}

	items := make([]disputePayload, 0, len(page.Items))
	for _, dispute := range page.Items {
		items = append(items, buildDisputePayload(dispute))
	}
	httpx.WriteJSON(w, http.StatusOK, disputeListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *DisputeHandlers) getDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	dispute, err := h.disputes.GetDispute(ctx, identity.Actor(), strings.TrimSpace(chi.URLParam(r, "disputeId")))
	if err != nil {
		writeServiceError(ctx, w, "dispute", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildDisputePayload(dispute))
}

func (h *DisputeHandlers) updateDisputeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateDisputeStatusRequest
	if !decodeRequest(ctx, w, r, maxDisputeBodySize, &req) {
		return
	}

	dispute, err := h.disputes.UpdateDisputeStatus(ctx, services.UpdateDisputeStatusCommand{
		Actor:      identity.Actor(),
		DisputeID:  strings.TrimSpace(chi.URLParam(r, "disputeId")),
		Status:     req.Status,
		Resolution: req.Resolution,
	})
	if err != nil {
		writeServiceError(ctx, w, "dispute", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildDisputePayload(dispute))
}

type disputeListResponse struct {
	Items         []disputePayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type disputePayload struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	OrderID     string `json:"orderId"`
	CustomerID  string `json:"customerId"`
	BranchID    string `json:"branchId"`
	OrderStatus string `json:"orderStatus,omitempty"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	Resolution  string `json:"resolution,omitempty"`
	ReviewedBy  string `json:"reviewedBy,omitempty"`
	ResolvedAt  string `json:"resolvedAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

func buildDisputePayload(dispute services.Dispute) disputePayload {
	return disputePayload{
		ID:          dispute.ID,
		Reference:   dispute.Reference,
		OrderID:     dispute.OrderID,
		CustomerID:  dispute.CustomerID,
		BranchID:    dispute.BranchID,
		OrderStatus: string(dispute.OrderStatus),
		Type:        string(dispute.Type),
		Reason:      dispute.Reason,
		Status:      string(dispute.Status),
		Resolution:  dispute.Resolution,
		ReviewedBy:  dispute.ReviewedBy,
		ResolvedAt:  formatTimePtr(dispute.ResolvedAt),
		CreatedAt:   formatTime(dispute.CreatedAt),
		UpdatedAt:   formatTime(dispute.UpdatedAt),
	}
}
