package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock means the request exceeds available stock. The
	// caller should not retry with the same quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnknownReservation means no reservation with the given id exists.
	ErrUnknownReservation = errors.New("unknown reservation")
	// ErrInvalidTransition means the reservation is in a terminal state that
	// cannot move to the requested one.
	ErrInvalidTransition = errors.New("invalid reservation transition")
	// ErrDuplicateReservation means the id is already used by a reservation
	// with a different SKU or quantity.
	ErrDuplicateReservation = errors.New("duplicate reservation id")
	ErrUnknownSKU           = errors.New("unknown sku")
	ErrSKUExists            = errors.New("sku already registered")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	ReservationID string
	From          State
	To            State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
