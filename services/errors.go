package services

import (
	"errors"
	"fmt"
)

var (
	// ErrWalletNotFound is returned when an enqueue request references a
	// wallet the registry does not know.
	ErrWalletNotFound = errors.New("WALLET_NOT_FOUND")

	// ErrDeliveryFailure marks a failed webhook batch. The batch
	// transaction is rolled back and retried on the next run.
	ErrDeliveryFailure = errors.New("webhook delivery failed")
)

// ValidationError rejects a malformed enqueue request synchronously,
// before anything is queued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %v: %v", e.Field, e.Message)
}

// IsValidationError reports whether err is a synchronous validation
// rejection.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
