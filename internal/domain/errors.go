package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the repository and service layers
// wraps exactly one of these so callers can map it with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage failure")
	ErrTransport  = errors.New("transport failure")
)

var (
	ErrChatNotFound    = fmt.Errorf("chat %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)

	// ErrClientIDReused is returned when a client message id is sent again
	// with different content.
	ErrClientIDReused = fmt.Errorf("%w: client_message_id already used for a different message", ErrConflict)
)

// Validationf returns an ErrValidation with a formatted detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError wraps a backend failure as ErrStorage, keeping the cause in the chain.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
