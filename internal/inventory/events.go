package inventory

import (
	"time"

	"reservationservice/internal/ledger"
)

// Checkout event types consumed from CheckoutEvents.
const (
	EventOrderPlaced      = "OrderPlaced"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentFailed    = "PaymentFailed"
	EventCartAbandoned    = "CartAbandoned"
)

// Reservation event types published to ReservationEvents.
const (
	EventReservationHeld      = "ReservationHeld"
	EventReservationCommitted = "ReservationCommitted"
	EventReservationReleased  = "ReservationReleased"
	EventReservationExpired   = "ReservationExpired"
	EventReservationRejected  = "ReservationRejected"
)

// Rejection reasons carried by ReservationRejected.
const (
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonUnknownReservation = "unknown_reservation"
	ReasonInvalidTransition  = "invalid_transition"
	ReasonDuplicate          = "duplicate_reservation"
	ReasonUnknownSKU         = "unknown_sku"
	ReasonInvalidRequest     = "invalid_request"
)

// CheckoutEvent is emitted by the checkout flow of the commerce service.
// A single-SKU event carries SKU and Quantity. A multi-line order carries
// Items instead and is handled as a whole; its lines are addressed by the
// reservation id, or the order id when no reservation id is given.
type CheckoutEvent struct {
	Type          string     `json:"type"`
	ReservationID string     `json:"reservation_id,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	SKU           string     `json:"sku,omitempty"`
	Quantity      int        `json:"quantity,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
	TTLSeconds    int        `json:"ttl_seconds,omitempty"`
}

// LineItem is one line of a multi-line order.
type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity,omitempty"`
}

// orderKey names the reservation group of a multi-line order.
func (e CheckoutEvent) orderKey() string {
	if e.ReservationID != "" {
		return e.ReservationID
	}
	return e.OrderID
}

// ReservationEvent reports the outcome of a checkout event or an expiry.
type ReservationEvent struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id,omitempty"`
	SKU           string    `json:"sku,omitempty"`
	Quantity      int       `json:"quantity,omitempty"`
	State         string    `json:"state,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Available     *int      `json:"available,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	OccurredAt    time.Time `json:"occurred_at"`

	// Items lists the line reservations of a multi-line order.
	Items []ReservationLine `json:"items,omitempty"`
}

// ReservationLine is the outcome for one line of a multi-line order.
type ReservationLine struct {
	ReservationID string `json:"reservation_id,omitempty"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	State         string `json:"state,omitempty"`
	Available     *int   `json:"available,omitempty"`
}

// outcomeEventType names the event that reports a reservation in state.
func outcomeEventType(state ledger.State) string {
	switch state {
	case ledger.StateCommitted:
		return EventReservationCommitted
	case ledger.StateReleased:
		return EventReservationReleased
	case ledger.StateExpired:
		return EventReservationExpired
	default:
		return EventReservationHeld
	}
}

// StockAdjustedEvent is emitted by the admin restock flow. Delta is added to
// available stock; Threshold, when set, replaces the low-stock threshold.
// Registering an unknown SKU requires InitialAvailable.
type StockAdjustedEvent struct {
	SKU              string `json:"sku"`
	Delta            int    `json:"delta"`
	Threshold        *int   `json:"threshold,omitempty"`
	InitialAvailable *int   `json:"initial_available,omitempty"`
}
