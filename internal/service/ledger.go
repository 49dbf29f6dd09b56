package service

import (
	"context"

	"credlo/internal/model"
)

// CreditLedger defines the business operations of the credit ledger.
// All transport layers (HTTP, NATS) and workers depend on this interface,
// not on the concrete implementation.
type CreditLedger interface {
	// ValidateAndDeduct atomically draws cost credits for one feature
	// call: free pool first, then purchased lots soonest-expiring first.
	// Fails with *model.InsufficientCreditsError without touching state
	// when the balance is short, model.ErrAccountNotFound when the user
	// was never provisioned, and model.ErrContended when another mutation
	// holds the user's lock.
	ValidateAndDeduct(ctx context.Context, req model.DeductRequest) error

	// Refund restores credits to the free pool only, never above the
	// monthly allowance. The audit row records the delta actually applied.
	Refund(ctx context.Context, req model.RefundRequest) error

	// GetBalance is read-only and lock-free. Users without an account get
	// an all-zero view, never an error.
	GetBalance(ctx context.Context, userID string) (*model.BalanceView, error)

	// ResetFreeAllowance refills the free pool and advances the reset
	// date. Idempotent per billing cycle: a second call in the same cycle
	// is a no-op.
	ResetFreeAllowance(ctx context.Context, userID string) error

	// CreateAccount provisions the per-user ledger row at signup.
	CreateAccount(ctx context.Context, userID string, monthlyAllowance int64) error

	// GrantLot records a purchased credit lot; called by the purchase
	// flow after payment settles.
	GrantLot(ctx context.Context, req model.GrantLotRequest) (*model.CreditLot, error)
}
