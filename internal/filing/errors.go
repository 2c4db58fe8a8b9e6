package filing

import (
	"fmt"

	"github.com/wealth-ops/filing-engine/internal/validation"
)

// The engine's error taxonomy. Validation and gateway outcomes that are
// normal business events are represented as data on the filing; these types
// cover the remaining caller-correctable and programmer-error conditions.

// NotFoundError indicates an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NewNotFound creates a NotFoundError.
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// PreconditionError indicates an action attempted on an entity in the wrong
// state. Always caller-correctable.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

// NewPrecondition creates a PreconditionError.
func NewPrecondition(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError carries the full validation result when an operation is
// refused because the form data is invalid. The caller corrects the data and
// re-validates.
type ValidationError struct {
	Result *validation.Result
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d error(s)", len(e.Result.Errors))
}

// ExecutorError indicates an automated workflow step action failed. It is
// recorded on the step; the execution itself is not failed by it.
type ExecutorError struct {
	ActionType string
	Err        error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s failed: %v", e.ActionType, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }
