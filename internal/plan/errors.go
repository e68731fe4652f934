package plan

import (
	"errors"
	"fmt"
)

var ErrInvalidPolicy = errors.New("plan: invalid policy")

// PlanningError reports a malformed Policy. Content problems never produce one.
type PlanningError struct {
	Field  string
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidPolicy, e.Field, e.Reason)
}

func (e *PlanningError) Unwrap() error {
	return ErrInvalidPolicy
}

func invalid(field, reason string) error {
	return &PlanningError{Field: field, Reason: reason}
}
