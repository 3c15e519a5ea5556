package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnknownOrderStatus reports a status string outside the canonical set and its legacy aliases.
var ErrUnknownOrderStatus = errors.New("domain: unknown order status")

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingConfirmation indicates checkout finished and the order awaits a branch.
	OrderStatusPendingConfirmation OrderStatus = "PENDING_CONFIRMATION"
	// OrderStatusConfirmed indicates a branch accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPacking indicates branch staff are packing the items.
	OrderStatusPacking OrderStatus = "PACKING"
	// OrderStatusReadyToShip indicates the parcel awaits shipper pickup.
	OrderStatusReadyToShip OrderStatus = "READY_TO_SHIP"
	// OrderStatusShipping indicates a shipper is delivering the order.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered indicates the shipper handed over the order.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCompleted indicates the customer accepted the delivery.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailedDelivery indicates the shipper could not deliver.
	OrderStatusFailedDelivery OrderStatus = "FAILED_DELIVERY"
	// OrderStatusReturning indicates a return was requested after delivery.
	OrderStatusReturning OrderStatus = "RETURNING"
	// OrderStatusReturned indicates the branch received the returned goods.
	OrderStatusReturned OrderStatus = "RETURNED"
)

// OrderStatuses lists every canonical status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingConfirmation,
	OrderStatusConfirmed,
	OrderStatusPacking,
	OrderStatusReadyToShip,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusFailedDelivery,
	OrderStatusReturning,
	OrderStatusReturned,
}

// legacy lowercase values still written by older clients.
var legacyOrderStatuses = map[string]OrderStatus{
	"PENDING":  OrderStatusPendingConfirmation,
	"CANCELED": OrderStatusCancelled,
}

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPendingConfirmation: 0,
	OrderStatusConfirmed:           1,
	OrderStatusPacking:             2,
	OrderStatusReadyToShip:         3,
	OrderStatusShipping:            4,
	OrderStatusDelivered:           5,
	OrderStatusCompleted:           6,
	OrderStatusFailedDelivery:      5,
	OrderStatusCancelled:           7,
	OrderStatusReturning:           7,
	OrderStatusReturned:            8,
}

// ParseOrderStatus normalises a wire value into the canonical enum. Legacy lowercase values
// such as "pending" or "cancelled" map onto their canonical counterparts.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrUnknownOrderStatus)
	}
	normalized := cases.Upper(language.Und).String(trimmed)
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	if legacy, ok := legacyOrderStatuses[normalized]; ok {
		return legacy, nil
	}
	status := OrderStatus(normalized)
	if _, ok := orderStatusRank[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOrderStatus, raw)
	}
	return status, nil
}

// StoredStatusValues expands statuses into the spellings older clients stored for them: the
// canonical value, its lower-case form and any legacy alias in both cases. The
// result stays under Firestore's 30 value limit for "in" filters even for the full status set.
func StoredStatusValues(statuses []OrderStatus) []string {
	values := make([]string, 0, len(statuses)*2)
	add := func(v string) {
		if !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	for _, status := range statuses {
		add(string(status))
		add(strings.ToLower(string(status)))
		for alias, target := range legacyOrderStatuses {
			if target == status {
				add(alias)
				add(strings.ToLower(alias))
			}
		}
	}
	return values
}

// MustParseOrderStatus panics on unknown input. Intended for constants and tests.
func MustParseOrderStatus(raw string) OrderStatus {
	status, err := ParseOrderStatus(raw)
	if err != nil {
		panic(err)
	}
	return status
}

// Valid reports whether the status belongs to the canonical set.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// Rank returns the position of the status along the lifecycle. Every edge of the transition
// graph strictly increases it.
func (s OrderStatus) Rank() int {
	rank, ok := orderStatusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// IsTerminal reports whether no further transitions leave the status in the normal flow.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusFailedDelivery, OrderStatusReturned:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// MarshalJSON emits the canonical encoding.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderStatus, string(s))
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts canonical and legacy encodings.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order status: %w", err)
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Order is the aggregate owned by the order service. Only the order service writes Status.
type Order struct {
	ID            string
	CustomerID    string
	BranchID      string
	Items         []OrderItem
	Status        OrderStatus
	StatusHistory []OrderStatusChange
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	DeliveredAt   *time.Time
}

// OrderItem snapshots a purchased product at checkout.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// OrderStatusChange is one accepted transition in the order history.
type OrderStatusChange struct {
	From      OrderStatus
	To        OrderStatus
	ActorID   string
	ActorRole Role
	Reason    string
	At        time.Time
}

// ContainsProduct reports whether any line item references productID.
func (o Order) ContainsProduct(productID string) bool {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// Total sums line prices multiplied by quantities.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
