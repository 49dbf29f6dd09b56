package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"credlo/internal/model"
	"credlo/internal/service"
)

// Handler subscribes to NATS command topics and delegates to the ledger
// service. It gives internal callers (AI feature workers, billing jobs)
// a path to the ledger without going through HTTP.
type Handler struct {
	svc  service.CreditLedger
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.CreditLedger, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe("commands.deduct", "ledger_group", func(m *nats.Msg) {
		var req model.DeductRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal deduct command", "error", err)
			return
		}
		if err := h.svc.ValidateAndDeduct(ctx, req); err != nil {
			slog.Error("nats: deduct failed", "error", err, "user_id", req.UserID, "feature", req.Feature)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe("commands.refund", "ledger_group", func(m *nats.Msg) {
		var req model.RefundRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal refund command", "error", err)
			return
		}
		if err := h.svc.Refund(ctx, req); err != nil {
			slog.Error("nats: refund failed", "error", err, "user_id", req.UserID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
