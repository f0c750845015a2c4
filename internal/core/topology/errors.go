// Package topology contains pure functions that validate, order, render and
// parse the multi-service manifest deployed to the target.
// This is part of the Functional Core - all functions are pure with no I/O.
package topology

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrEmptyInput  = errors.New("compose file is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNameRequired   = errors.New("topology name is required")
	ErrNoServices     = errors.New("topology must define at least one service")
	ErrDuplicate      = errors.New("service is declared twice")
	ErrPrimaryUnknown = errors.New("primary service is not part of the topology")

	// Service errors
	ErrServiceNoName        = errors.New("service name is required")
	ErrServiceNoImage       = errors.New("service must have image or build")
	ErrServiceInvalidPort   = errors.New("invalid port configuration")
	ErrServiceInvalidVolume = errors.New("invalid volume configuration")
	ErrInvalidRestart       = errors.New("invalid restart policy")
	ErrHealthCheckNoTest    = errors.New("health check must define a test")

	// Dependency errors
	ErrUnknownDependency  = errors.New("dependency is not part of the topology")
	ErrDependencyNoHealth = errors.New("healthy dependency has no health check")
	ErrInvalidCondition   = errors.New("invalid dependency condition")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrUndeclaredVolume   = errors.New("named volume is not declared")

	// Rendering errors
	ErrComposeRejected = errors.New("rendered manifest rejected by compose loader")
)

// ValidationError wraps errors with context about which field failed.
type ValidationError struct {
	Field   string // e.g., "services.api.depends_on[0]"
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
