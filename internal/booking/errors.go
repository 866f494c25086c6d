package booking

import (
	"errors"
	"fmt"
)

// ErrInvalidSlot is returned when a slot string cannot be parsed.
var ErrInvalidSlot = errors.New("invalid slot time")

// ErrInvalidPartySize is returned for party sizes below one or above the
// room maximum.
var ErrInvalidPartySize = errors.New("invalid party size")

// CapacityError reports that a slot cannot take the requested party.
// Remaining and Max let callers suggest a smaller group or another slot.
type CapacityError struct {
	Remaining int
	Max       int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("slot full: %d of %d places remaining", e.Remaining, e.Max)
}

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSlot) || errors.Is(err, ErrInvalidPartySize)
}
