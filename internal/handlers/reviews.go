package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/httpx"
	"github.com/furnishop/commerce/internal/platform/pagination"
	"github.com/furnishop/commerce/internal/services"
)

const (
	maxReviewBodySize int64 = 32 * 1024
	maxReviewPageSize       = 50
)

type createReviewRequest struct {
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment"`
}

// ReviewHandlers exposes endpoints for creating and listing product reviews.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
	limiter *callerLimiter
}

// ReviewHandlersOption customises ReviewHandlers.
type ReviewHandlersOption func(*ReviewHandlers)

// WithReviewRateLimit caps review submissions per customer within window.
func WithReviewRateLimit(limit int, window time.Duration, clock func() time.Time) ReviewHandlersOption {
	return func(h *ReviewHandlers) {
		h.limiter = newCallerLimiter(limit, window, clock)
	}
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService, opts ...ReviewHandlersOption) *ReviewHandlers {
	h := &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the product review endpoints. Listing is public; posting requires a customer.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productId}/reviews", h.listReviews)
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth(domain.RoleCustomer))
		}
		r.Use(throttleCaller(h.limiter, "review_rate_limited"))
		r.Post("/products/{productId}/reviews", h.createReview)
	})
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createReviewRequest
	if !decodeRequest(ctx, w, r, maxReviewBodySize, &req) {
		return
	}

	review, err := h.reviews.CreateReview(ctx, services.CreateReviewCommand{
		Actor:     identity.Actor(),
		ProductID: strings.TrimSpace(chi.URLParam(r, "productId")),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeServiceError(ctx, w, "review", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildReviewPayload(review))
}

func (h *ReviewHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit, err := pagination.ParseLimit(query.Get("limit"), maxReviewPageSize)
	if err != nil {
		writeServiceError(ctx, w, "review", err)
		return
	}

	page, err := h.reviews.ListProductReviews(ctx, strings.TrimSpace(chi.URLParam(r, "productId")), domain.Pagination{
		PageSize:  limit,
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		writeServiceError(ctx, w, "review", err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	httpx.WriteJSON(w, http.StatusOK, reviewListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type reviewPayload struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	CustomerID string `json:"customerId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:         review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
		Comment:    review.Comment,
		CreatedAt:  formatTime(review.CreatedAt),
	}
}
