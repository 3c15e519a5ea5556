package domain

import (
	"slices"
	"strings"
	"time"
)

// DisputeStatus tracks how far staff have progressed a dispute.
type DisputeStatus string

const (
	// DisputeStatusOpen is the initial state of every dispute.
	DisputeStatusOpen DisputeStatus = "OPEN"
	// DisputeStatusProcessing means branch staff picked the dispute up.
	DisputeStatusProcessing DisputeStatus = "PROCESSING"
	// DisputeStatusResolved closes the dispute in the customer's favour.
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	// DisputeStatusRejected closes the dispute without remedy.
	DisputeStatusRejected DisputeStatus = "REJECTED"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:       {DisputeStatusProcessing, DisputeStatusRejected},
	DisputeStatusProcessing: {DisputeStatusResolved, DisputeStatusRejected},
}

// ParseDisputeStatus normalises a status from a request or a database row.
func ParseDisputeStatus(raw string) (DisputeStatus, bool) {
	status := DisputeStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case DisputeStatusOpen, DisputeStatusProcessing, DisputeStatusResolved, DisputeStatusRejected:
		return status, true
	default:
		return "", false
	}
}

// IsActive reports whether the dispute still blocks a new dispute on the same order.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusProcessing
}

// IsClosed reports whether the status ends the dispute.
func (s DisputeStatus) IsClosed() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

// CanMoveTo reports whether staff may move a dispute from s to next.
func (s DisputeStatus) CanMoveTo(next DisputeStatus) bool {
	return slices.Contains(disputeTransitions[s], next)
}

// NextDisputeStatuses lists the statuses reachable from s.
func NextDisputeStatuses(s DisputeStatus) []DisputeStatus {
	return slices.Clone(disputeTransitions[s])
}

// DisputeType classifies the customer's complaint.
type DisputeType string

const (
	DisputeTypeDamagedItem  DisputeType = "DAMAGED_ITEM"
	DisputeTypeMissingItem  DisputeType = "MISSING_ITEM"
	DisputeTypeWrongItem    DisputeType = "WRONG_ITEM"
	DisputeTypeLateDelivery DisputeType = "LATE_DELIVERY"
	DisputeTypeNotDelivered DisputeType = "NOT_DELIVERED"
	DisputeTypeOther        DisputeType = "OTHER"
)

// ParseDisputeType normalises a dispute type; unknown values yield false.
func ParseDisputeType(raw string) (DisputeType, bool) {
	kind := DisputeType(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case DisputeTypeDamagedItem, DisputeTypeMissingItem, DisputeTypeWrongItem,
		DisputeTypeLateDelivery, DisputeTypeNotDelivered, DisputeTypeOther:
		return kind, true
	default:
		return "", false
	}
}

// Dispute is a customer complaint about a shipped order, routed to the order's branch.
// OrderID, CustomerID and BranchID never change after creation.
type Dispute struct {
	ID          string
	Reference   string
	OrderID     string
	CustomerID  string
	BranchID    string
	OrderStatus OrderStatus
	Type        DisputeType
	Reason      string
	Status      DisputeStatus
	Resolution  string
	ReviewedBy  string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
