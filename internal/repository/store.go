package repository

import (
	"context"
	"time"

	"credlo/internal/model"
)

// Tx is the transactional scope a mutating ledger operation runs in.
// Everything done through a Tx commits or rolls back as one unit.
type Tx interface {
	// LockAccount reads the user's account under an exclusive row lock.
	// Returns model.ErrAccountNotFound when no row exists and
	// model.ErrContended when the lock is already held elsewhere.
	LockAccount(ctx context.Context, userID string) (*model.CreditAccount, error)

	// LotsForUpdate returns every ACTIVE lot for the user, including ones
	// already past expiry, ordered soonest-expiring first with ties broken
	// by lot id. The account lock serializes writers, so the lots
	// themselves carry no extra lock.
	LotsForUpdate(ctx context.Context, userID string) ([]model.CreditLot, error)

	UpdateAccount(ctx context.Context, acct *model.CreditAccount) error
	UpdateLot(ctx context.Context, lotID string, remaining int64, status model.LotStatus) error
	InsertLot(ctx context.Context, lot *model.CreditLot) error

	// AppendTransaction inserts one immutable audit row. There is no
	// update or delete path for credit_transactions anywhere.
	AppendTransaction(ctx context.Context, tx *model.CreditTransaction) error
}

// Store is the persistence port the ledger service depends on.
type Store interface {
	// WithinTx runs fn inside one database transaction; fn returning an
	// error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// CreateAccount provisions a new account row. Returns
	// model.ErrAccountExists on conflict.
	CreateAccount(ctx context.Context, acct *model.CreditAccount) error

	// Account is an unlocked point read; model.ErrAccountNotFound when missing.
	Account(ctx context.Context, userID string) (*model.CreditAccount, error)

	// ActiveLots is the unlocked read-side query: status ACTIVE and
	// expires_at > now, ordered soonest-expiring first.
	ActiveLots(ctx context.Context, userID string, now time.Time) ([]model.CreditLot, error)

	// DueForReset lists user ids whose free_reset_date has passed.
	DueForReset(ctx context.Context, now time.Time, limit int) ([]string, error)
}
