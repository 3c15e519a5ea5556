package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/furnishop/commerce/internal/domain"
)

type transitionKey struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// orderTransitions is the complete transition graph. Each edge lists the roles allowed to take it.
var orderTransitions = map[transitionKey][]domain.Role{
	{domain.OrderStatusPendingConfirmation, domain.OrderStatusConfirmed}: {domain.RoleManager, domain.RoleAdmin},
	{domain.OrderStatusConfirmed, domain.OrderStatusPacking}:             {domain.RoleEmployee, domain.RoleManager},
	{domain.OrderStatusPacking, domain.OrderStatusReadyToShip}:           {domain.RoleEmployee, domain.RoleManager},
	{domain.OrderStatusReadyToShip, domain.OrderStatusShipping}:          {domain.RoleShipper},
	{domain.OrderStatusShipping, domain.OrderStatusDelivered}:            {domain.RoleShipper},
	{domain.OrderStatusShipping, domain.OrderStatusFailedDelivery}:       {domain.RoleShipper},

	{domain.OrderStatusPendingConfirmation, domain.OrderStatusCancelled}: {domain.RoleCustomer, domain.RoleAdmin},
	{domain.OrderStatusConfirmed, domain.OrderStatusCancelled}:           {domain.RoleCustomer, domain.RoleAdmin},
	{domain.OrderStatusPacking, domain.OrderStatusCancelled}:             {domain.RoleAdmin},
	{domain.OrderStatusReadyToShip, domain.OrderStatusCancelled}:         {domain.RoleAdmin},

	{domain.OrderStatusDelivered, domain.OrderStatusCompleted}: {domain.RoleCustomer, domain.RoleAdmin},
	{domain.OrderStatusDelivered, domain.OrderStatusReturning}: {domain.RoleCustomer, domain.RoleAdmin},
	{domain.OrderStatusCompleted, domain.OrderStatusReturning}: {domain.RoleCustomer, domain.RoleAdmin},
	{domain.OrderStatusReturning, domain.OrderStatusReturned}:  {domain.RoleManager, domain.RoleAdmin},
}

// inventoryReleaseStatuses hand reserved stock back to the inventory service.
var inventoryReleaseStatuses = []domain.OrderStatus{
	domain.OrderStatusCancelled,
	domain.OrderStatusFailedDelivery,
}

// CanTransition reports whether role may move an order from current to requested. Pairs that
// are not edges of the graph, including self transitions, are always denied.
func CanTransition(current, requested domain.OrderStatus, role domain.Role) bool {
	roles, ok := orderTransitions[transitionKey{from: current, to: requested}]
	if !ok {
		return false
	}
	return slices.Contains(roles, role)
}

// NextStatuses lists every status reachable from current regardless of role.
func NextStatuses(current domain.OrderStatus) []domain.OrderStatus {
	var next []domain.OrderStatus
	for _, status := range domain.OrderStatuses {
		if _, ok := orderTransitions[transitionKey{from: current, to: status}]; ok {
			next = append(next, status)
		}
	}
	return next
}

// AllowedTransitions lists the statuses role may move an order to from current.
func AllowedTransitions(current domain.OrderStatus, role domain.Role) []domain.OrderStatus {
	var allowed []domain.OrderStatus
	for _, status := range NextStatuses(current) {
		if CanTransition(current, status, role) {
			allowed = append(allowed, status)
		}
	}
	return allowed
}

// TransitionRequest describes a requested status change evaluated by AuthorizeTransition.
type TransitionRequest struct {
	Order     domain.Order
	Requested domain.OrderStatus
	Actor     domain.Actor
	// BranchID lets an admin assign a branch while confirming an unassigned order.
	BranchID string
}

// TransitionDecision reports the outcome of a successful authorization.
type TransitionDecision struct {
	// AssignBranch is non-empty when the transition assigns the order to a branch.
	AssignBranch     string
	InventoryRelease bool
}

// AuthorizeTransition evaluates a transition request against the graph, the role table, order
// ownership and branch scope. Errors wrap ErrOrderInvalidState, ErrOrderForbidden or
// ErrOrderInvalidInput.
func AuthorizeTransition(req TransitionRequest) (TransitionDecision, error) {
	order := req.Order
	actor := req.Actor
	current, requested := order.Status, req.Requested

	roles, ok := orderTransitions[transitionKey{from: current, to: requested}]
	if !ok {
		return TransitionDecision{}, fmt.Errorf("%w: cannot move order from %s to %s (allowed next: %s)",
			ErrOrderInvalidState, current, requested, joinStatuses(NextStatuses(current)))
	}
	if !slices.Contains(roles, actor.Role) {
		return TransitionDecision{}, fmt.Errorf("%w: role %q cannot move order from %s to %s",
			ErrOrderForbidden, actor.Role, current, requested)
	}

	if actor.Role == domain.RoleCustomer && order.CustomerID != actor.ID {
		return TransitionDecision{}, fmt.Errorf("%w: order does not belong to customer", ErrOrderForbidden)
	}

	decision := TransitionDecision{
		InventoryRelease: slices.Contains(inventoryReleaseStatuses, requested),
	}

	if actor.Role.BranchScoped() {
		if strings.TrimSpace(actor.BranchID) == "" {
			return TransitionDecision{}, fmt.Errorf("%w: actor has no branch assignment", ErrOrderForbidden)
		}
		switch {
		case order.BranchID == "" && requested == domain.OrderStatusConfirmed:
			decision.AssignBranch = actor.BranchID
		case order.BranchID != actor.BranchID:
			return TransitionDecision{}, fmt.Errorf("%w: order is assigned to another branch", ErrOrderForbidden)
		}
	}

	if requested == domain.OrderStatusConfirmed && order.BranchID == "" && decision.AssignBranch == "" {
		branch := strings.TrimSpace(req.BranchID)
		if branch == "" {
			return TransitionDecision{}, fmt.Errorf("%w: branch id is required to confirm an unassigned order", ErrOrderInvalidInput)
		}
		decision.AssignBranch = branch
	}

	return decision, nil
}

func joinStatuses(statuses []domain.OrderStatus) string {
	if len(statuses) == 0 {
		return "none"
	}
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return strings.Join(parts, ", ")
}
