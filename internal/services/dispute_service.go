package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/oklog/ulid/v2"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/repositories"
)

const (
	disputeEventOpened        = "dispute.opened"
	disputeEventStatusChanged = "dispute.status.changed"

	disputeIDPrefix        = "dsp_"
	disputeReferencePrefix = "DSP-"
	disputeReferenceChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	disputeReferenceLength = 10
	disputeInsertAttempts  = 3

	minDisputeReasonLength = 10
	maxDisputeReasonLength = 2000
	maxResolutionLength    = 2000

	defaultDisputeListLimit = 20
	maxDisputeListLimit     = 100

	eligibilityAllowed     = "allowed"
	eligibilityRejected    = "rejected"
	eligibilityUnavailable = "unavailable"
)

// disputableStatuses are the order statuses in which goods have left the branch.
var disputableStatuses = []domain.OrderStatus{
	domain.OrderStatusShipping,
	domain.OrderStatusDelivered,
	domain.OrderStatusCompleted,
	domain.OrderStatusFailedDelivery,
}

// DisputeServiceDeps bundles collaborators required to construct the dispute service.
type DisputeServiceDeps struct {
	Disputes           repositories.DisputeRepository
	Orders             OrderReader
	Clock              func() time.Time
	IDGenerator        func() string
	ReferenceGenerator func() string
	Events             DisputeEventPublisher
	Metrics            EligibilityMetrics
	Logger             Logger
}

type disputeService struct {
	disputes     repositories.DisputeRepository
	orders       OrderReader
	clock        func() time.Time
	newID        func() string
	newReference func() string
	events       DisputeEventPublisher
	metrics      EligibilityMetrics
	logger       Logger

	disputeErrors repositoryErrorMapping
	orderErrors   repositoryErrorMapping
}

// NewDisputeService wires dependencies into a concrete DisputeService implementation.
func NewDisputeService(deps DisputeServiceDeps) (DisputeService, error) {
	if deps.Disputes == nil {
		return nil, errors.New("dispute service: dispute repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("dispute service: order reader is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return disputeIDPrefix + ulid.Make().String()
		}
	}
	refGen := deps.ReferenceGenerator
	if refGen == nil {
		gen, err := nanoid.CustomASCII(disputeReferenceChars, disputeReferenceLength)
		if err != nil {
			return nil, fmt.Errorf("dispute service: reference generator: %w", err)
		}
		refGen = func() string {
			return disputeReferencePrefix + gen()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &disputeService{
		disputes: deps.Disputes,
		orders:   deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		newReference: refGen,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       logger,
		disputeErrors: repositoryErrorMapping{
			notFound: ErrDisputeNotFound,
			conflict: ErrDisputeConflict,
		},
		orderErrors: repositoryErrorMapping{
			notFound:    ErrOrderNotFound,
			unavailable: ErrOrderUnavailable,
		},
	}, nil
}

func (s *disputeService) OpenDispute(ctx context.Context, cmd OpenDisputeCommand) (Dispute, error) {
	if cmd.Actor.Role != domain.RoleCustomer || strings.TrimSpace(cmd.Actor.ID) == "" {
		return Dispute{}, fmt.Errorf("%w: only customers open disputes", ErrDisputeForbidden)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Dispute{}, fmt.Errorf("%w: order id is required", ErrDisputeInvalidInput)
	}
	kind, ok := domain.ParseDisputeType(cmd.Type)
	if !ok {
		return Dispute{}, fmt.Errorf("%w: unknown dispute type %q", ErrDisputeInvalidInput, cmd.Type)
	}
	reason := sanitizeText(cmd.Reason)
	if n := runeLen(reason); n < minDisputeReasonLength || n > maxDisputeReasonLength {
		return Dispute{}, fmt.Errorf("%w: reason must be between %d and %d characters", ErrDisputeInvalidInput, minDisputeReasonLength, maxDisputeReasonLength)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		err = s.mapOrderReadError(err)
		s.observe(err)
		return Dispute{}, err
	}

	if err := checkDisputeEligibility(cmd.Actor, order); err != nil {
		s.observe(err)
		return Dispute{}, err
	}

	active, err := s.disputes.FindActiveByOrder(ctx, orderID)
	switch {
	case err == nil:
		s.observe(ErrDisputeInvalidState)
		return Dispute{}, fmt.Errorf("%w: order already has an active dispute %s", ErrDisputeInvalidState, active.Reference)
	case !isRepositoryNotFound(err):
		return Dispute{}, s.disputeErrors.mapRepositoryError(err)
	}

	now := s.now()
	dispute := Dispute{
		ID:          s.newID(),
		Reference:   s.newReference(),
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		BranchID:    order.BranchID,
		OrderStatus: order.Status,
		Type:        kind,
		Reason:      reason,
		Status:      domain.DisputeStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	dispute, err = s.insertDispute(ctx, dispute)
	if err != nil {
		return Dispute{}, err
	}
	s.observe(nil)

	s.publishEvent(ctx, DisputeEvent{
		Type:          disputeEventOpened,
		DisputeID:     dispute.ID,
		Reference:     dispute.Reference,
		OrderID:       dispute.OrderID,
		CustomerID:    dispute.CustomerID,
		BranchID:      dispute.BranchID,
		CurrentStatus: string(dispute.Status),
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return dispute, nil
}

// insertDispute stores a new dispute. A unique violation is either a concurrent dispute on the
// same order or a reference collision; the latter is retried with a fresh id and reference.
func (s *disputeService) insertDispute(ctx context.Context, dispute Dispute) (Dispute, error) {
	for attempt := 1; ; attempt++ {
		err := s.disputes.Insert(ctx, dispute)
		if err == nil {
			return dispute, nil
		}
		mapped := s.disputeErrors.mapRepositoryError(err)
		if !errors.Is(mapped, ErrConflict) {
			return Dispute{}, mapped
		}

		active, findErr := s.disputes.FindActiveByOrder(ctx, dispute.OrderID)
		switch {
		case findErr == nil:
			s.observe(ErrDisputeInvalidState)
			return Dispute{}, fmt.Errorf("%w: order already has an active dispute %s", ErrDisputeInvalidState, active.Reference)
		case !isRepositoryNotFound(findErr):
			return Dispute{}, s.disputeErrors.mapRepositoryError(findErr)
		}

		if attempt >= disputeInsertAttempts {
			s.logger(ctx, "dispute.reference.exhausted", map[string]any{
				"orderId":  dispute.OrderID,
				"attempts": attempt,
			})
			return Dispute{}, fmt.Errorf("%w: could not allocate a unique dispute reference", ErrDisputeConflict)
		}
		dispute.ID = s.newID()
		dispute.Reference = s.newReference()
	}
}

// checkDisputeEligibility applies ownership, status and branch gates to an order snapshot.
func checkDisputeEligibility(actor Actor, order Order) error {
	if order.CustomerID != actor.ID {
		return fmt.Errorf("%w: order does not belong to customer", ErrDisputeForbidden)
	}
	if !slices.Contains(disputableStatuses, order.Status) {
		return fmt.Errorf("%w: order status %s is not disputable; allowed statuses: %s",
			ErrDisputeInvalidState, order.Status, joinStatuses(disputableStatuses))
	}
	if strings.TrimSpace(order.BranchID) == "" {
		return fmt.Errorf("%w: order has no assigned branch", ErrDisputeInvalidState)
	}
	return nil
}

func (s *disputeService) GetDispute(ctx context.Context, actor Actor, disputeID string) (Dispute, error) {
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return Dispute{}, fmt.Errorf("%w: dispute id is required", ErrDisputeInvalidInput)
	}
	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, s.disputeErrors.mapRepositoryError(err)
	}
	if err := authorizeDisputeRead(actor, dispute); err != nil {
		return Dispute{}, err
	}
	return dispute, nil
}

func (s *disputeService) ListDisputes(ctx context.Context, actor Actor, filter DisputeListFilter) (domain.CursorPage[Dispute], error) {
	pager, err := filter.Pagination.Bounded(defaultDisputeListLimit, maxDisputeListLimit)
	if err != nil {
		return domain.CursorPage[Dispute]{}, fmt.Errorf("%w: %v", ErrDisputeInvalidInput, err)
	}
	repoFilter := repositories.DisputeListFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Pagination: pager,
	}

	if raw := strings.TrimSpace(filter.Status); raw != "" {
		status, ok := domain.ParseDisputeStatus(raw)
		if !ok {
			return domain.CursorPage[Dispute]{}, fmt.Errorf("%w: unknown dispute status %q", ErrDisputeInvalidInput, raw)
		}
		repoFilter.Status = &status
	}

	switch {
	case actor.Role == domain.RoleAdmin:
	case actor.Role == domain.RoleCustomer && actor.ID != "":
		repoFilter.CustomerID = actor.ID
	case isDisputeHandler(actor.Role) && actor.BranchID != "":
		repoFilter.BranchID = actor.BranchID
	default:
		return domain.CursorPage[Dispute]{}, fmt.Errorf("%w: role %q cannot list disputes", ErrDisputeForbidden, actor.Role)
	}

	page, err := s.disputes.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Dispute]{}, s.disputeErrors.mapRepositoryError(err)
	}
	return page, nil
}

func (s *disputeService) UpdateDisputeStatus(ctx context.Context, cmd UpdateDisputeStatusCommand) (Dispute, error) {
	actor := cmd.Actor
	if actor.Role != domain.RoleAdmin && !isDisputeHandler(actor.Role) {
		return Dispute{}, fmt.Errorf("%w: role %q cannot handle disputes", ErrDisputeForbidden, actor.Role)
	}
	disputeID := strings.TrimSpace(cmd.DisputeID)
	if disputeID == "" {
		return Dispute{}, fmt.Errorf("%w: dispute id is required", ErrDisputeInvalidInput)
	}
	target, ok := domain.ParseDisputeStatus(cmd.Status)
	if !ok {
		return Dispute{}, fmt.Errorf("%w: unknown dispute status %q", ErrDisputeInvalidInput, cmd.Status)
	}
	resolution := sanitizeText(cmd.Resolution)
	if runeLen(resolution) > maxResolutionLength {
		return Dispute{}, fmt.Errorf("%w: resolution must be at most %d characters", ErrDisputeInvalidInput, maxResolutionLength)
	}

	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, s.disputeErrors.mapRepositoryError(err)
	}
	if actor.Role != domain.RoleAdmin && (actor.BranchID == "" || actor.BranchID != dispute.BranchID) {
		return Dispute{}, fmt.Errorf("%w: dispute belongs to another branch", ErrDisputeForbidden)
	}
	if !dispute.Status.CanMoveTo(target) {
		return Dispute{}, fmt.Errorf("%w: cannot move dispute from %s to %s", ErrDisputeInvalidState, dispute.Status, target)
	}

	now := s.now()
	update := repositories.DisputeStatusUpdate{
		DisputeID:  dispute.ID,
		Expected:   dispute.Status,
		Status:     target,
		ReviewedBy: actor.ID,
		Resolution: resolution,
		UpdatedAt:  now,
	}
	if target.IsClosed() {
		update.ResolvedAt = valuePtr(now)
	}

	updated, err := s.disputes.UpdateStatus(ctx, update)
	if err != nil {
		return Dispute{}, s.disputeErrors.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DisputeEvent{
		Type:           disputeEventStatusChanged,
		DisputeID:      updated.ID,
		Reference:      updated.Reference,
		OrderID:        updated.OrderID,
		CustomerID:     updated.CustomerID,
		BranchID:       updated.BranchID,
		PreviousStatus: string(dispute.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        actor.ID,
		OccurredAt:     now,
	})

	return updated, nil
}

func authorizeDisputeRead(actor Actor, dispute Dispute) error {
	switch {
	case actor.Role == domain.RoleAdmin, actor.Role == domain.RoleService:
		return nil
	case actor.Role == domain.RoleCustomer && actor.ID != "" && dispute.CustomerID == actor.ID:
		return nil
	case isDisputeHandler(actor.Role) && actor.BranchID != "" && dispute.BranchID == actor.BranchID:
		return nil
	}
	return fmt.Errorf("%w: dispute is not visible to the caller", ErrDisputeForbidden)
}

// isDisputeHandler reports whether branch staff in this role triage disputes.
func isDisputeHandler(role domain.Role) bool {
	return role == domain.RoleEmployee || role == domain.RoleManager
}

// mapOrderReadError fails closed: anything other than a confirmed absence or a cancelled
// request is reported as the order service being unavailable.
func (s *disputeService) mapOrderReadError(err error) error {
	return mapOrderReadError(s.orderErrors, err)
}

func mapOrderReadError(mapping repositoryErrorMapping, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	mapped := mapping.mapRepositoryError(err)
	if errors.Is(mapped, ErrNotFound) || errors.Is(mapped, ErrUpstreamUnavailable) {
		return mapped
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *disputeService) observe(err error) {
	if s.metrics == nil {
		return
	}
	outcome := eligibilityAllowed
	switch {
	case err == nil:
	case errors.Is(err, ErrUpstreamUnavailable):
		outcome = eligibilityUnavailable
	default:
		outcome = eligibilityRejected
	}
	s.metrics.ObserveEligibility("dispute", "order", outcome)
}

func (s *disputeService) now() time.Time {
	return s.clock()
}

func (s *disputeService) publishEvent(ctx context.Context, event DisputeEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDisputeEvent(ctx, event); err != nil {
		s.logger(ctx, "dispute.event.publish.failed", map[string]any{
			"type":    event.Type,
			"dispute": event.DisputeID,
			"error":   err.Error(),
		})
	}
}
