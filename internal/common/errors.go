package common

import (
	"errors"
	"fmt"
)

// Common error values shared across the simulator.
var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrDuplicateContainer   = errors.New("duplicate container")
	ErrNodeAlreadyStarted   = errors.New("node already started")
	ErrNodeStopped          = errors.New("node stopped")
	ErrRegistrationDeadline = errors.New("registration deadline exceeded")
	ErrWaitTimeout          = errors.New("wait deadline exceeded")
	ErrUnknownStrategy      = errors.New("unknown scheduler strategy")
)

// ValidationError reports a rejected configuration or request field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a validation error.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// ValidateResource checks a declared capacity or container request.
func ValidateResource(resource Resource) error {
	if resource.Memory <= 0 {
		return NewValidationError("memory", "must be greater than 0", resource.Memory)
	}
	if resource.VCores <= 0 {
		return NewValidationError("vcores", "must be greater than 0", resource.VCores)
	}
	return nil
}
