package ledger

import "time"

// State is the lifecycle state of a reservation.
type State string

const (
	StateHeld      State = "held"
	StateCommitted State = "committed"
	StateReleased  State = "released"
	StateExpired   State = "expired"
)

// Terminal reports whether no further transition is possible out of s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateReleased || s == StateExpired
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s == StateHeld || s.Terminal()
}

// StockRecord is the available-to-sell position of a single SKU.
// Available is on-hand stock minus every Held reservation.
type StockRecord struct {
	SKU               string
	Available         int
	LowStockThreshold int
}

// Reservation is a quantity of one SKU held for a checkout.
type Reservation struct {
	ID        string
	SKU       string
	Quantity  int
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time
	// ClosedAt is zero while the reservation is Held.
	ClosedAt time.Time
}

// LowStockEvent is emitted when a transition takes available stock of a SKU
// from above its threshold to at or below it.
type LowStockEvent struct {
	SKU               string
	AvailableQuantity int
	Threshold         int
	OccurredAt        time.Time
}
