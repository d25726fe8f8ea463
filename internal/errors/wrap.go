package errors

import (
	"errors"
	"fmt"
)

// InvalidInput wraps a message as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// InvalidStatus wraps a message as an invalid status transition
func InvalidStatus(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidStatus)
}

// CorruptedState wraps a message as corrupted persisted state
func CorruptedState(message string) error {
	return fmt.Errorf("%s: %w", message, ErrCorruptedState)
}

// MalformedWindow wraps a message as a malformed similarity window
func MalformedWindow(message string) error {
	return fmt.Errorf("%s: %w", message, ErrMalformedWindow)
}

// NotFound wraps a message as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Upstream wraps an underlying I/O error, keeping the cause in the chain.
func Upstream(message string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrUpstream)
	}
	return fmt.Errorf("%s: %v: %w", message, err, ErrUpstream)
}

// Internal wraps a message as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsValidation reports whether the error is a validation-class failure that
// must not be retried.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrCorruptedState) ||
		errors.Is(err, ErrMalformedWindow)
}

// IsCategory checks if error belongs to a specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}
