package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"credlo/internal/model"
	"credlo/internal/service"
)

// TopicLowBalance carries model.CreditDeductedEvent payloads for users
// that just dropped below the alert threshold.
const TopicLowBalance = "credits.low_balance"

// LowBalanceNotifier watches deduction events and republishes a
// low-balance alert when a user's remaining balance crosses the
// threshold. At most one alert per user per cooldown window; the
// dedup state lives in redis so multiple instances don't double-alert.
type LowBalanceNotifier struct {
	nc        *nats.Conn
	rdb       *redis.Client
	threshold int64
	cooldown  time.Duration
}

func NewLowBalanceNotifier(nc *nats.Conn, rdb *redis.Client, threshold int64, cooldown time.Duration) *LowBalanceNotifier {
	return &LowBalanceNotifier{nc: nc, rdb: rdb, threshold: threshold, cooldown: cooldown}
}

// Run subscribes to deduction events and blocks until ctx is cancelled.
// QueueSubscribe: with several instances running, each event reaches
// exactly one of them.
func (w *LowBalanceNotifier) Run(ctx context.Context) error {
	sub, err := w.nc.QueueSubscribe(service.TopicCreditDeducted, "lowbalance_group", func(m *nats.Msg) {
		var event model.CreditDeductedEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("lowbalance: failed to unmarshal event", "error", err)
			return
		}
		w.handle(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("lowbalance: failed to subscribe: %w", err)
	}

	slog.Info("low-balance notifier is running", "threshold", w.threshold)

	<-ctx.Done()

	slog.Info("low-balance notifier shutting down, draining subscription...")
	return sub.Drain()
}

func (w *LowBalanceNotifier) handle(ctx context.Context, event model.CreditDeductedEvent) {
	if event.RemainingBalance >= w.threshold {
		return
	}

	// SETNX with TTL: first writer in the window wins, everyone else skips.
	key := fmt.Sprintf("lowbalance:alert:%s", event.UserID)
	ok, err := w.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), w.cooldown).Result()
	if err != nil {
		slog.Warn("lowbalance: dedup check failed, skipping alert", "user_id", event.UserID, "error", err)
		return
	}
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := w.nc.Publish(TopicLowBalance, data); err != nil {
		slog.Error("lowbalance: failed to publish alert", "user_id", event.UserID, "error", err)
		return
	}

	slog.Info("low-balance alert published",
		"user_id", event.UserID,
		"remaining_balance", event.RemainingBalance,
	)
}

// Start implements the infrastructure.Server interface.
func (w *LowBalanceNotifier) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *LowBalanceNotifier) Stop(ctx context.Context) error {
	return nil
}
