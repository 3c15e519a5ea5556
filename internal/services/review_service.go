package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/repositories"
)

const (
	reviewIDPrefix     = "rev_"
	reviewEventCreated = "review.created"

	maxReviewCommentLength = 2000

	defaultReviewListLimit = 20
	maxReviewListLimit     = 100

	// DefaultReviewScanLimit bounds the order page fetched in scan mode.
	DefaultReviewScanLimit = 100
)

// ReviewEligibilityMode selects how purchase and receipt are confirmed with the order service.
type ReviewEligibilityMode string

const (
	// ReviewEligibilityQuery asks the order service whether a delivered order contains the product.
	ReviewEligibilityQuery ReviewEligibilityMode = "query"
	// ReviewEligibilityScan lists one bounded page of the customer's orders and filters locally.
	ReviewEligibilityScan ReviewEligibilityMode = "scan"
)

// ParseReviewEligibilityMode maps configuration values onto a mode. Empty selects query.
func ParseReviewEligibilityMode(raw string) (ReviewEligibilityMode, error) {
	switch mode := ReviewEligibilityMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", ReviewEligibilityQuery:
		return ReviewEligibilityQuery, nil
	case ReviewEligibilityScan:
		return mode, nil
	default:
		return "", fmt.Errorf("review eligibility mode %q is not supported", raw)
	}
}

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews         repositories.ReviewRepository
	Orders          OrderReader
	EligibilityMode ReviewEligibilityMode
	ScanLimit       int
	Clock           func() time.Time
	IDGenerator     func() string
	Sanitizer       func(string) string
	Events          ReviewEventPublisher
	Metrics         EligibilityMetrics
	Logger          Logger
}

type reviewService struct {
	reviews   repositories.ReviewRepository
	orders    OrderReader
	mode      ReviewEligibilityMode
	scanLimit int
	clock     func() time.Time
	newID     func() string
	sanitize  func(string) string
	events    ReviewEventPublisher
	metrics   EligibilityMetrics
	logger    Logger

	reviewErrors repositoryErrorMapping
	orderErrors  repositoryErrorMapping
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order reader is required")
	}

	mode, err := ParseReviewEligibilityMode(string(deps.EligibilityMode))
	if err != nil {
		return nil, fmt.Errorf("review service: %w", err)
	}
	scanLimit := deps.ScanLimit
	if scanLimit <= 0 {
		scanLimit = DefaultReviewScanLimit
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = sanitizeText
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:   deps.Reviews,
		orders:    deps.Orders,
		mode:      mode,
		scanLimit: scanLimit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   logger,
		reviewErrors: repositoryErrorMapping{
			conflict: ErrReviewInvalidState,
		},
		orderErrors: repositoryErrorMapping{
			notFound:    ErrOrderNotFound,
			unavailable: ErrOrderUnavailable,
		},
	}, nil
}

func (s *reviewService) CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	if cmd.Actor.Role != domain.RoleCustomer || strings.TrimSpace(cmd.Actor.ID) == "" {
		return Review{}, fmt.Errorf("%w: only customers write reviews", ErrReviewForbidden)
	}
	customerID := strings.TrimSpace(cmd.Actor.ID)
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < domain.MinReviewRating || cmd.Rating > domain.MaxReviewRating {
		return Review{}, fmt.Errorf("%w: rating must be between %d and %d", ErrReviewInvalidInput, domain.MinReviewRating, domain.MaxReviewRating)
	}
	comment := s.sanitize(cmd.Comment)
	if runeLen(comment) > maxReviewCommentLength {
		return Review{}, fmt.Errorf("%w: comment must be at most %d characters", ErrReviewInvalidInput, maxReviewCommentLength)
	}

	eligible, err := s.hasReceivedProduct(ctx, customerID, productID)
	if err != nil {
		s.observe(eligibilityUnavailable)
		return Review{}, err
	}
	if !eligible {
		s.observe(eligibilityRejected)
		return Review{}, fmt.Errorf("%w: purchase and receipt required", ErrReviewForbidden)
	}
	s.observe(eligibilityAllowed)

	if err := s.ensureNoExistingReview(ctx, customerID, productID); err != nil {
		return Review{}, err
	}

	review := Review{
		ID:         s.newID(),
		ProductID:  productID,
		CustomerID: customerID,
		Rating:     cmd.Rating,
		Comment:    comment,
		CreatedAt:  s.now(),
	}
	if err := s.reviews.Insert(ctx, review); err != nil {
		mapped := s.reviewErrors.mapRepositoryError(err)
		if errors.Is(mapped, ErrInvalidState) {
			return Review{}, fmt.Errorf("%w: product already reviewed by customer", ErrReviewInvalidState)
		}
		return Review{}, mapped
	}

	s.emitEvent(ctx, review)
	return review, nil
}

func (s *reviewService) ListProductReviews(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	pager, err := pager.Bounded(defaultReviewListLimit, maxReviewListLimit)
	if err != nil {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: %v", ErrReviewInvalidInput, err)
	}

	page, err := s.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, s.reviewErrors.mapRepositoryError(err)
	}
	return page, nil
}

// hasReceivedProduct confirms with the order service that the customer owns a delivered or
// completed order containing the product. Errors fail closed.
func (s *reviewService) hasReceivedProduct(ctx context.Context, customerID, productID string) (bool, error) {
	if s.mode == ReviewEligibilityQuery {
		found, err := s.orders.HasDeliveredOrderWithProduct(ctx, customerID, productID)
		if err != nil {
			return false, s.mapOrderReadError(err)
		}
		return found, nil
	}

	orders, err := s.orders.ListOrders(ctx, customerID, s.scanLimit)
	if err != nil {
		return false, s.mapOrderReadError(err)
	}
	return slices.ContainsFunc(orders, func(order Order) bool {
		return order.CustomerID == customerID &&
			slices.Contains(deliveredStatuses, order.Status) &&
			order.ContainsProduct(productID)
	}), nil
}

// mapOrderReadError treats an unknown customer as having no orders; every other failure
// fails closed.
func (s *reviewService) mapOrderReadError(err error) error {
	mapped := mapOrderReadError(s.orderErrors, err)
	if errors.Is(mapped, ErrNotFound) {
		return nil
	}
	return mapped
}

func (s *reviewService) ensureNoExistingReview(ctx context.Context, customerID, productID string) error {
	existing, err := s.reviews.FindByCustomerProduct(ctx, customerID, productID)
	if err == nil {
		return fmt.Errorf("%w: product already reviewed by customer (review %s)", ErrReviewInvalidState, existing.ID)
	}
	if isRepositoryNotFound(err) {
		return nil
	}
	return s.reviewErrors.mapRepositoryError(err)
}

func (s *reviewService) observe(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveEligibility("review", string(s.mode), outcome)
}

func (s *reviewService) now() time.Time {
	return s.clock()
}

func (s *reviewService) emitEvent(ctx context.Context, review Review) {
	if s.events == nil {
		return
	}
	event := ReviewEvent{
		Type:       reviewEventCreated,
		ReviewID:   review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
		OccurredAt: review.CreatedAt,
	}
	if err := s.events.PublishReviewEvent(ctx, event); err != nil {
		s.logger(ctx, "review.event.publish.failed", map[string]any{
			"review": review.ID,
			"error":  err.Error(),
		})
	}
}
