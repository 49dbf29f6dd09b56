package model

import "time"

// LotStatus tracks the lifecycle of a purchased credit lot.
// Lots are never deleted; they only move ACTIVE -> EXHAUSTED or ACTIVE -> EXPIRED.
type LotStatus string

const (
	LotActive    LotStatus = "ACTIVE"
	LotExhausted LotStatus = "EXHAUSTED"
	LotExpired   LotStatus = "EXPIRED"
)

// TransactionType is the business reason recorded on an audit row.
type TransactionType string

const (
	TxDeduct    TransactionType = "DEDUCT"
	TxRefund    TransactionType = "REFUND"
	TxFreeReset TransactionType = "FREE_RESET"
	TxRevoke    TransactionType = "REVOKE"
)

// CreditAccount is the per-user ledger row. Balance is denormalized:
// balance == free_remaining + sum(remaining of ACTIVE, unexpired lots).
// Only the ledger service mutates it, always under the row lock.
type CreditAccount struct {
	UserID           string    `json:"user_id"`
	Balance          int64     `json:"balance"`
	MonthlyAllowance int64     `json:"monthly_allowance"`
	FreeRemaining    int64     `json:"free_remaining"`
	FreeResetDate    time.Time `json:"free_reset_date"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CreditLot is a purchased, time-limited batch of credits.
type CreditLot struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PackageName  string    `json:"package_name"`
	TotalCredits int64     `json:"total_credits"`
	Remaining    int64     `json:"remaining"`
	PriceCents   int64     `json:"price_cents"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       LotStatus `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the lot is past its expiry at the given time.
func (l CreditLot) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// CreditTransaction is an append-only audit row. Amount is signed
// (negative for DEDUCT/REVOKE) and BalanceAfter is the denormalized
// account balance after the mutation, so replaying the rows reconstructs
// the balance history exactly.
type CreditTransaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Feature      string          `json:"feature"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BalanceView is the read-only answer to a balance query. For users
// without an account every field is zero.
type BalanceView struct {
	UserID           string    `json:"user_id"`
	TotalBalance     int64     `json:"total_balance"`
	FreeRemaining    int64     `json:"free_remaining"`
	MonthlyAllowance int64     `json:"monthly_allowance"`
	PurchasedBalance int64     `json:"purchased_balance"`
	FreeResetDate    time.Time `json:"free_reset_date"`
}

// DeductRequest asks the ledger to consume credits for one feature call.
type DeductRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
	Cost    int64  `json:"cost"`
}

// RefundRequest restores credits to the free pool, capped at the
// monthly allowance.
type RefundRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
	Amount  int64  `json:"amount"`
}

// GrantLotRequest is issued by the purchase flow once payment settles.
type GrantLotRequest struct {
	UserID      string    `json:"user_id"`
	PackageName string    `json:"package_name"`
	Credits     int64     `json:"credits"`
	PriceCents  int64     `json:"price_cents"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreditDeductedEvent is published on the bus after a successful deduction.
type CreditDeductedEvent struct {
	UserID           string    `json:"user_id"`
	Amount           int64     `json:"amount"`
	Feature          string    `json:"feature"`
	RemainingBalance int64     `json:"remaining_balance"`
	CreatedAt        time.Time `json:"created_at"`
}
