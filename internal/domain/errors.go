package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaViolation marks model output that does not match the trade schema.
var ErrSchemaViolation = errors.New("output does not match trade schema")

// CompatibilityError means the arena speaks a different payload schema.
type CompatibilityError struct {
	Expected int
	Got      int
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("schema version mismatch: expected %d, got %d; please update your agent", e.Expected, e.Got)
}

// TransportError is a non-success HTTP response from a remote call.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("API %s %s failed (%d): %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ValidationFailure is a business rejection by the arena validator.
type ValidationFailure struct {
	Errors []string
}

func (e *ValidationFailure) Error() string {
	if len(e.Errors) == 0 {
		return "decision rejected by validator"
	}
	return "decision rejected by validator: " + strings.Join(e.Errors, "; ")
}

// EngineIncompleteError means a bounded reasoning loop ended without producing a decision.
type EngineIncompleteError struct {
	Policy string
	Steps  int
}

func (e *EngineIncompleteError) Error() string {
	return fmt.Sprintf("%s strategy used %d step(s) without submitting a decision", e.Policy, e.Steps)
}
