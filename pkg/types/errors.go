package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for lookups that found nothing
var (
	ErrTaskNotFound = errors.New("task not found")
	// ErrActionNotFound covers missing, already-resolved and expired
	// pending actions; callers cannot distinguish the three.
	ErrActionNotFound = errors.New("pending action not found")
	ErrInvalidOption  = errors.New("invalid option")
)

// ValidationError reports every field that failed validation.
// A change set that produces one is never partially applied.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// CollaboratorError wraps a failure of the natural-language collaborator
// (transport, auth, timeout or malformed response). Recoverable; the
// instruction is not retried automatically.
type CollaboratorError struct {
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator error: %v", e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
