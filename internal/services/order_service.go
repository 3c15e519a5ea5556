package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	defaultOrderListLimit = 20
	maxOrderListLimit     = 100

	transitionOutcomeApplied  = "applied"
	transitionOutcomeRejected = "rejected"
	transitionOutcomeConflict = "conflict"
)

// deliveredStatuses qualify an order as received by the customer.
var deliveredStatuses = []domain.OrderStatus{
	domain.OrderStatusDelivered,
	domain.OrderStatusCompleted,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     TransitionMetrics
	Logger      Logger
}

type orderService struct {
	repositoryErrorMapping
	orders  repositories.OrderRepository
	clock   func() time.Time
	newID   func() string
	events  OrderEventPublisher
	metrics TransitionMetrics
	logger  Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		repositoryErrorMapping: repositoryErrorMapping{
			notFound:    ErrOrderNotFound,
			conflict:    ErrOrderConflict,
			unavailable: ErrOrderUnavailable,
		},
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if cmd.Actor.Role != domain.RoleCustomer {
		return Order{}, fmt.Errorf("%w: only customers place orders", ErrOrderForbidden)
	}
	customerID := strings.TrimSpace(cmd.Actor.ID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price.IsNegative() {
			return Order{}, fmt.Errorf("%w: items[%d].price must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, domain.OrderItem{
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	now := s.now()
	order := Order{
		ID:         s.nextOrderID(),
		CustomerID: customerID,
		Items:      items,
		Status:     domain.OrderStatusPendingConfirmation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       customerID,
		ActorRole:     string(cmd.Actor.Role),
		OccurredAt:    now,
		Metadata: map[string]any{
			"itemCount": len(items),
			"total":     order.Total().String(),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderRead(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter, err := scopeOrderList(actor, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.TargetStatus.Valid() {
		return Order{}, fmt.Errorf("%w: target status %q is not recognised", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		s.observeTransition(order.Status, cmd.TargetStatus, transitionOutcomeConflict)
		return Order{}, fmt.Errorf("%w: expected status %s but was %s", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	decision, err := AuthorizeTransition(TransitionRequest{
		Order:     order,
		Requested: cmd.TargetStatus,
		Actor:     cmd.Actor,
		BranchID:  cmd.BranchID,
	})
	if err != nil {
		s.observeTransition(order.Status, cmd.TargetStatus, transitionOutcomeRejected)
		return Order{}, err
	}

	previous := order.Status
	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)

	updated, err := s.orders.CompareAndSwapStatus(ctx, orderID, previous, func(current *domain.Order) error {
		applyTransition(current, cmd.TargetStatus, decision, cmd.Actor, reason, now)
		return nil
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrConflict) {
			s.observeTransition(previous, cmd.TargetStatus, transitionOutcomeConflict)
			return Order{}, fmt.Errorf("%w: order %s changed status concurrently", ErrOrderConflict, orderID)
		}
		return Order{}, mapped
	}
	s.observeTransition(previous, cmd.TargetStatus, transitionOutcomeApplied)

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	if decision.AssignBranch != "" {
		metadata["branchAssigned"] = decision.AssignBranch
	}
	if decision.InventoryRelease {
		metadata["inventoryRelease"] = true
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		CustomerID:     updated.CustomerID,
		BranchID:       updated.BranchID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        cmd.Actor.ID,
		ActorRole:      string(cmd.Actor.Role),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return updated, nil
}

func (s *orderService) AllowedTransitions(ctx context.Context, actor Actor, orderID string) ([]OrderStatus, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	allowed := make([]OrderStatus, 0)
	for _, next := range AllowedTransitions(order.Status, actor.Role) {
		_, err := AuthorizeTransition(TransitionRequest{Order: order, Requested: next, Actor: actor})
		// An admin confirming an unassigned order still may, once a branch is supplied.
		if err == nil || errors.Is(err, ErrInvalidInput) {
			allowed = append(allowed, next)
		}
	}
	return allowed, nil
}

func (s *orderService) HasDeliveredOrderWithProduct(ctx context.Context, actor Actor, customerID, productID string) (bool, error) {
	customerID = strings.TrimSpace(customerID)
	productID = strings.TrimSpace(productID)
	if customerID == "" || productID == "" {
		return false, fmt.Errorf("%w: customer id and product id are required", ErrOrderInvalidInput)
	}

	switch actor.Role {
	case domain.RoleService, domain.RoleAdmin:
	case domain.RoleCustomer:
		if actor.ID != customerID {
			return false, fmt.Errorf("%w: customers may only query their own orders", ErrOrderForbidden)
		}
	default:
		return false, fmt.Errorf("%w: role %q cannot query delivery history", ErrOrderForbidden, actor.Role)
	}

	found, err := s.orders.HasOrderWithProduct(ctx, customerID, productID, deliveredStatuses)
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	return found, nil
}

func applyTransition(order *domain.Order, target domain.OrderStatus, decision TransitionDecision, actor Actor, reason string, now time.Time) {
	if decision.AssignBranch != "" && order.BranchID == "" {
		order.BranchID = decision.AssignBranch
	}
	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = valuePtr(now)
	case domain.OrderStatusDelivered:
		order.DeliveredAt = valuePtr(now)
	case domain.OrderStatusCancelled:
		order.CancelReason = reason
	}
	order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
		From:      order.Status,
		To:        target,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Reason:    reason,
		At:        now,
	})
	order.Status = target
	order.UpdatedAt = now
}

func authorizeOrderRead(actor Actor, order Order) error {
	switch {
	case actor.Role == domain.RoleService, actor.Role == domain.RoleAdmin:
		return nil
	case actor.Role == domain.RoleCustomer:
		if actor.ID != "" && order.CustomerID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: order does not belong to customer", ErrOrderForbidden)
	case actor.Role.BranchScoped():
		if actor.BranchID != "" && order.BranchID == actor.BranchID {
			return nil
		}
		if order.BranchID == "" && order.Status == domain.OrderStatusPendingConfirmation && canClaimUnassigned(actor) {
			return nil
		}
		return fmt.Errorf("%w: order is assigned to another branch", ErrOrderForbidden)
	default:
		return fmt.Errorf("%w: role %q cannot read orders", ErrOrderForbidden, actor.Role)
	}
}

// canClaimUnassigned reports whether a branch-scoped actor may confirm, and thereby claim, an
// order that has no branch yet.
func canClaimUnassigned(actor Actor) bool {
	return actor.Role.BranchScoped() && strings.TrimSpace(actor.BranchID) != "" &&
		CanTransition(domain.OrderStatusPendingConfirmation, domain.OrderStatusConfirmed, actor.Role)
}

func scopeOrderList(actor Actor, filter OrderListFilter) (repositories.OrderListFilter, error) {
	pager, err := domain.Pagination{PageSize: filter.Limit, PageToken: filter.PageToken}.
		Bounded(defaultOrderListLimit, maxOrderListLimit)
	if err != nil {
		return repositories.OrderListFilter{}, fmt.Errorf("%w: limit: %v", ErrOrderInvalidInput, err)
	}

	out := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		BranchID:   strings.TrimSpace(filter.BranchID),
		Statuses:   slices.Clone(filter.Statuses),
		Pagination: pager,
	}

	switch {
	case actor.Role == domain.RoleService, actor.Role == domain.RoleAdmin:
	case actor.Role == domain.RoleCustomer:
		if out.CustomerID != "" && out.CustomerID != actor.ID {
			return repositories.OrderListFilter{}, fmt.Errorf("%w: customers may only list their own orders", ErrOrderForbidden)
		}
		out.CustomerID = actor.ID
	case actor.Role.BranchScoped():
		if actor.BranchID == "" || (out.BranchID != "" && out.BranchID != actor.BranchID) {
			return repositories.OrderListFilter{}, fmt.Errorf("%w: staff may only list their branch orders", ErrOrderForbidden)
		}
		// Pending orders carry no branch until confirmed, so a confirming role asking for
		// the pending queue sees the unassigned orders it may claim.
		if out.BranchID == "" && canClaimUnassigned(actor) &&
			slices.Equal(out.Statuses, []domain.OrderStatus{domain.OrderStatusPendingConfirmation}) {
			out.Unassigned = true
			break
		}
		out.BranchID = actor.BranchID
	default:
		return repositories.OrderListFilter{}, fmt.Errorf("%w: role %q cannot list orders", ErrOrderForbidden, actor.Role)
	}

	if out.CustomerID == "" && out.BranchID == "" && len(out.Statuses) == 0 && actor.Role == domain.RoleService {
		return repositories.OrderListFilter{}, fmt.Errorf("%w: customerId, branchId or status filter is required", ErrOrderInvalidInput)
	}
	return out, nil
}

func (s *orderService) observeTransition(from, to OrderStatus, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(from, to, outcome)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func valuePtr[T any](v T) *T {
	return &v
}
