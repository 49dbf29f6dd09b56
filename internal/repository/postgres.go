package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"credlo/internal/model"
)

// Postgres SQLSTATE codes this package cares about.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.CreditAccount) error {
	query := `INSERT INTO credit_accounts
	            (user_id, balance, monthly_allowance, free_remaining, free_reset_date, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := s.pool.Exec(ctx, query,
		acct.UserID, acct.Balance, acct.MonthlyAllowance, acct.FreeRemaining, acct.FreeResetDate, acct.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, userID string) (*model.CreditAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, monthly_allowance, free_remaining, free_reset_date, created_at, updated_at
		 FROM credit_accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

func (s *PostgresStore) ActiveLots(ctx context.Context, userID string, now time.Time) ([]model.CreditLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, package_name, total_credits, remaining, price_cents, expires_at, status, created_at
		 FROM credit_lots
		 WHERE user_id = $1 AND status = 'ACTIVE' AND expires_at > $2
		 ORDER BY expires_at, id`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("query active lots: %w", err)
	}
	return scanLots(rows)
}

func (s *PostgresStore) DueForReset(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM credit_accounts
		 WHERE free_reset_date <= $1
		 ORDER BY free_reset_date
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query accounts due for reset: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgTx implements Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	// NOWAIT makes contention surface immediately as a retryable error
	// instead of queueing the caller behind the current writer.
	row := t.tx.QueryRow(ctx,
		`SELECT user_id, balance, monthly_allowance, free_remaining, free_reset_date, created_at, updated_at
		 FROM credit_accounts WHERE user_id = $1 FOR UPDATE NOWAIT`, userID)

	acct, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, model.ErrContended
		}
		return nil, err
	}
	return acct, nil
}

func (t *pgTx) LotsForUpdate(ctx context.Context, userID string) ([]model.CreditLot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, package_name, total_credits, remaining, price_cents, expires_at, status, created_at
		 FROM credit_lots
		 WHERE user_id = $1 AND status = 'ACTIVE'
		 ORDER BY expires_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query lots for update: %w", err)
	}
	return scanLots(rows)
}

func (t *pgTx) UpdateAccount(ctx context.Context, acct *model.CreditAccount) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE credit_accounts
		 SET balance = $2, free_remaining = $3, free_reset_date = $4, updated_at = $5
		 WHERE user_id = $1`,
		acct.UserID, acct.Balance, acct.FreeRemaining, acct.FreeResetDate, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) UpdateLot(ctx context.Context, lotID string, remaining int64, status model.LotStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE credit_lots SET remaining = $2, status = $3 WHERE id = $1`,
		lotID, remaining, status)
	if err != nil {
		return fmt.Errorf("update lot %s: %w", lotID, err)
	}
	return nil
}

func (t *pgTx) InsertLot(ctx context.Context, lot *model.CreditLot) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credit_lots
		   (id, user_id, package_name, total_credits, remaining, price_cents, expires_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lot.ID, lot.UserID, lot.PackageName, lot.TotalCredits, lot.Remaining,
		lot.PriceCents, lot.ExpiresAt, lot.Status, lot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *model.CreditTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, feature, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Feature, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.CreditAccount, error) {
	var acct model.CreditAccount
	err := row.Scan(&acct.UserID, &acct.Balance, &acct.MonthlyAllowance,
		&acct.FreeRemaining, &acct.FreeResetDate, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func scanLots(rows pgx.Rows) ([]model.CreditLot, error) {
	defer rows.Close()

	var lots []model.CreditLot
	for rows.Next() {
		var lot model.CreditLot
		if err := rows.Scan(&lot.ID, &lot.UserID, &lot.PackageName, &lot.TotalCredits,
			&lot.Remaining, &lot.PriceCents, &lot.ExpiresAt, &lot.Status, &lot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
