package command

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("command: validation failed")

// ValidationError describes a rejected command argument.
type ValidationError struct {
	Command string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %s: invalid %s: %s", e.Command, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(command, field, format string, args ...any) error {
	return &ValidationError{Command: command, Field: field, Reason: fmt.Sprintf(format, args...)}
}
