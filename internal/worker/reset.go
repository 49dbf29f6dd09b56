package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credlo/internal/model"
	"credlo/internal/repository"
	"credlo/internal/service"
)

// ResetScheduler periodically refills free allowances for accounts whose
// reset date has passed. ResetFreeAllowance is idempotent per cycle, so
// overlapping schedulers (or a tick racing the HTTP reset endpoint) are
// harmless.
type ResetScheduler struct {
	svc      service.CreditLedger
	store    repository.Store
	interval time.Duration
	batch    int
}

func NewResetScheduler(svc service.CreditLedger, store repository.Store, interval time.Duration, batch int) *ResetScheduler {
	return &ResetScheduler{svc: svc, store: store, interval: interval, batch: batch}
}

// Run ticks until ctx is cancelled, draining due accounts each tick.
func (w *ResetScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("allowance reset scheduler is running", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ResetScheduler) tick(ctx context.Context) {
	for {
		ids, err := w.store.DueForReset(ctx, time.Now(), w.batch)
		if err != nil {
			slog.Error("reset scheduler: failed to list due accounts", "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}

		var applied int
		for _, userID := range ids {
			err := w.svc.ResetFreeAllowance(ctx, userID)
			switch {
			case err == nil:
				applied++
			case errors.Is(err, model.ErrContended):
				// Another writer holds the row; the next tick picks it up.
				slog.Info("reset scheduler: account contended, deferring", "user_id", userID)
			default:
				slog.Error("reset scheduler: reset failed", "user_id", userID, "error", err)
			}
		}

		// A full failing page would otherwise spin forever on the same ids.
		if len(ids) < w.batch || applied == 0 {
			return
		}
	}
}

// Start implements the infrastructure.Server interface.
func (w *ResetScheduler) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *ResetScheduler) Stop(ctx context.Context) error {
	return nil
}
