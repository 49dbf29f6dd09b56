package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound means no ledger row exists for the user. This is
	// a provisioning bug upstream, not a business outcome, and is never
	// retried.
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrAccountExists is returned when provisioning an already-provisioned user.
	ErrAccountExists = errors.New("credit account already exists")

	// ErrContended means the account row lock could not be acquired in time.
	// The whole operation may be retried from scratch by the caller.
	ErrContended = errors.New("credit account is locked by another operation")

	// ErrInvalidAmount rejects non-positive costs and refund amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientCreditsError is the expected business failure when a
// deduction exceeds the spendable balance. It carries both sides so the
// caller can tell the user how short they are.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// IsInsufficientCredits reports whether err wraps an InsufficientCreditsError.
func IsInsufficientCredits(err error) bool {
	var ice *InsufficientCreditsError
	return errors.As(err, &ice)
}
