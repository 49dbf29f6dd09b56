package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"credlo/internal/metrics"
	"credlo/internal/model"
	"credlo/internal/policy"
	"credlo/internal/repository"
)

// TopicCreditDeducted carries model.CreditDeductedEvent payloads.
const TopicCreditDeducted = "credits.deducted"

// CreditService implements CreditLedger on top of the store port.
// Every mutation runs as: lock account -> sweep expired lots -> compute ->
// write -> append audit row, all in one transaction. The bus publish and
// cache invalidation happen strictly after commit, so the per-user lock
// is never held across an external call.
type CreditService struct {
	store repository.Store
	bus   repository.MessageBus
	cache *repository.BalanceCache
	now   func() time.Time
}

// Option configures a CreditService.
type Option func(*CreditService)

// WithBalanceCache enables the read-side balance view cache.
func WithBalanceCache(cache *repository.BalanceCache) Option {
	return func(s *CreditService) { s.cache = cache }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *CreditService) { s.now = now }
}

func NewCreditService(store repository.Store, bus repository.MessageBus, opts ...Option) *CreditService {
	s := &CreditService{
		store: store,
		bus:   bus,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CreditService) ValidateAndDeduct(ctx context.Context, req model.DeductRequest) error {
	if req.Cost <= 0 {
		return model.ErrInvalidAmount
	}

	var event model.CreditDeductedEvent
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		lots, err := tx.LotsForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}

		now := s.now()
		live, err := s.sweepExpired(ctx, tx, acct, lots, now)
		if err != nil {
			return err
		}

		plan, err := policy.Compute(req.Cost, acct.FreeRemaining, live)
		if err != nil {
			return err
		}

		for _, draw := range plan.Draws {
			lot := lotByID(live, draw.LotID)
			status := model.LotActive
			if draw.Exhausted {
				status = model.LotExhausted
			}
			if err := tx.UpdateLot(ctx, draw.LotID, lot.Remaining-draw.Amount, status); err != nil {
				return err
			}
		}

		acct.FreeRemaining -= plan.FromFree
		acct.Balance -= req.Cost
		acct.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		if err := tx.AppendTransaction(ctx, &model.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			Type:         model.TxDeduct,
			Amount:       -req.Cost,
			BalanceAfter: acct.Balance,
			Feature:      req.Feature,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		event = model.CreditDeductedEvent{
			UserID:           req.UserID,
			Amount:           req.Cost,
			Feature:          req.Feature,
			RemainingBalance: acct.Balance,
			CreatedAt:        now,
		}
		return nil
	})
	if err != nil {
		switch {
		case model.IsInsufficientCredits(err):
			metrics.InsufficientCredits.Inc()
		case errors.Is(err, model.ErrContended):
			metrics.Contended.Inc()
		}
		return err
	}

	metrics.Deductions.WithLabelValues(req.Feature).Inc()
	s.invalidate(ctx, req.UserID)
	s.publishDeducted(event)
	return nil
}

func (s *CreditService) Refund(ctx context.Context, req model.RefundRequest) error {
	if req.Amount <= 0 {
		return model.ErrInvalidAmount
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		lots, err := tx.LotsForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}

		now := s.now()
		if _, err := s.sweepExpired(ctx, tx, acct, lots, now); err != nil {
			return err
		}

		// Refunds only restore the free pool, capped at the monthly
		// allowance; purchased lots are money-backed and out of scope.
		applied := min(req.Amount, acct.MonthlyAllowance-acct.FreeRemaining)

		acct.FreeRemaining += applied
		acct.Balance += applied
		acct.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		return tx.AppendTransaction(ctx, &model.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			Type:         model.TxRefund,
			Amount:       applied,
			BalanceAfter: acct.Balance,
			Feature:      req.Feature,
			CreatedAt:    now,
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrContended) {
			metrics.Contended.Inc()
		}
		return err
	}

	metrics.Refunds.Inc()
	s.invalidate(ctx, req.UserID)
	return nil
}

func (s *CreditService) GetBalance(ctx context.Context, userID string) (*model.BalanceView, error) {
	if s.cache != nil {
		if view, ok := s.cache.Get(ctx, userID); ok {
			return view, nil
		}
	}

	acct, err := s.store.Account(ctx, userID)
	if errors.Is(err, model.ErrAccountNotFound) {
		// Balance queries are always answerable; a missing account is an
		// empty one, not a failure.
		return &model.BalanceView{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	// Compute purchased from live lots instead of trusting the stored
	// balance, so the view is right even before a revoke sweep runs.
	lots, err := s.store.ActiveLots(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	var purchased int64
	for _, lot := range lots {
		purchased += lot.Remaining
	}

	view := &model.BalanceView{
		UserID:           userID,
		TotalBalance:     acct.FreeRemaining + purchased,
		FreeRemaining:    acct.FreeRemaining,
		MonthlyAllowance: acct.MonthlyAllowance,
		PurchasedBalance: purchased,
		FreeResetDate:    acct.FreeResetDate,
	}
	if s.cache != nil {
		s.cache.Set(ctx, view)
	}
	return view, nil
}

func (s *CreditService) ResetFreeAllowance(ctx context.Context, userID string) error {
	var applied bool
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if acct.FreeResetDate.After(now) {
			// Already reset this cycle; the monthly job may call us twice.
			return nil
		}

		lots, err := tx.LotsForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.sweepExpired(ctx, tx, acct, lots, now); err != nil {
			return err
		}

		delta := acct.MonthlyAllowance - acct.FreeRemaining
		acct.FreeRemaining = acct.MonthlyAllowance
		acct.Balance += delta
		acct.FreeResetDate = model.NextResetDate(now)
		acct.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		applied = true
		return tx.AppendTransaction(ctx, &model.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         model.TxFreeReset,
			Amount:       delta,
			BalanceAfter: acct.Balance,
			CreatedAt:    now,
		})
	})
	if err != nil {
		if errors.Is(err, model.ErrContended) {
			metrics.Contended.Inc()
		}
		return err
	}

	if applied {
		metrics.AllowanceResets.Inc()
		s.invalidate(ctx, userID)
	}
	return nil
}

func (s *CreditService) CreateAccount(ctx context.Context, userID string, monthlyAllowance int64) error {
	if monthlyAllowance < 0 {
		return model.ErrInvalidAmount
	}

	now := s.now()
	return s.store.CreateAccount(ctx, &model.CreditAccount{
		UserID:           userID,
		Balance:          monthlyAllowance,
		MonthlyAllowance: monthlyAllowance,
		FreeRemaining:    monthlyAllowance,
		FreeResetDate:    model.NextResetDate(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (s *CreditService) GrantLot(ctx context.Context, req model.GrantLotRequest) (*model.CreditLot, error) {
	if req.Credits <= 0 {
		return nil, model.ErrInvalidAmount
	}
	now := s.now()
	if !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("lot expiry %s is in the past", req.ExpiresAt.Format(time.RFC3339))
	}

	lot := &model.CreditLot{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		PackageName:  req.PackageName,
		TotalCredits: req.Credits,
		Remaining:    req.Credits,
		PriceCents:   req.PriceCents,
		ExpiresAt:    req.ExpiresAt,
		Status:       model.LotActive,
		CreatedAt:    now,
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}
		acct.Balance += req.Credits
		acct.UpdatedAt = now
		return tx.UpdateAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.UserID)
	return lot, nil
}

// sweepExpired lazily flips ACTIVE lots past expiry to EXPIRED, subtracts
// their leftover credits from the denormalized balance, and appends one
// REVOKE row covering the swept amount. Returns the still-live lots in
// their original order. Runs inside the caller's transaction, so an
// aborted operation also rolls the sweep back; the next mutation redoes it.
func (s *CreditService) sweepExpired(ctx context.Context, tx repository.Tx, acct *model.CreditAccount, lots []model.CreditLot, now time.Time) ([]model.CreditLot, error) {
	var live []model.CreditLot
	var revoked int64
	for _, lot := range lots {
		if !lot.Expired(now) {
			live = append(live, lot)
			continue
		}
		if err := tx.UpdateLot(ctx, lot.ID, lot.Remaining, model.LotExpired); err != nil {
			return nil, err
		}
		revoked += lot.Remaining
	}
	if revoked == 0 {
		return live, nil
	}

	acct.Balance -= revoked
	if err := tx.AppendTransaction(ctx, &model.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       acct.UserID,
		Type:         model.TxRevoke,
		Amount:       -revoked,
		BalanceAfter: acct.Balance,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	metrics.RevokedCredits.Add(float64(revoked))
	slog.Info("revoked expired lot credits", "user_id", acct.UserID, "amount", revoked)
	return live, nil
}

func (s *CreditService) publishDeducted(event model.CreditDeductedEvent) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(TopicCreditDeducted, data); err != nil {
		// Best-effort: the deduction is already committed.
		slog.Warn("failed to publish deduction event", "user_id", event.UserID, "error", err)
	}
}

func (s *CreditService) invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}

func lotByID(lots []model.CreditLot, id string) model.CreditLot {
	for _, lot := range lots {
		if lot.ID == id {
			return lot
		}
	}
	return model.CreditLot{}
}
