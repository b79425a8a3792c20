package order

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state change does not follow
	// the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrAlreadyConfirmed is returned when an attempt starts on an order that
	// already reached CONFIRMED.
	ErrAlreadyConfirmed = errors.New("order already confirmed")
)

// ValidationError describes a malformed order request. It is produced at
// intake and never reaches the execution pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
