package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"credlo/internal/model"
	"credlo/internal/pricing"
	"credlo/internal/service"
)

type Handler struct {
	svc service.CreditLedger
}

func NewHandler(svc service.CreditLedger) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /accounts", h.CreateAccount)
	mux.HandleFunc("POST /lots", h.GrantLot)
	mux.HandleFunc("GET /balance", h.GetBalance)
	mux.HandleFunc("POST /deduct", h.Deduct)
	mux.HandleFunc("POST /refund", h.Refund)
	mux.HandleFunc("POST /reset", h.Reset)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID           string `json:"user_id"`
		MonthlyAllowance int64  `json:"monthly_allowance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.UserID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_user_id")
		return
	}
	if err := h.svc.CreateAccount(r.Context(), req.UserID, req.MonthlyAllowance); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *Handler) GrantLot(w http.ResponseWriter, r *http.Request) {
	var req model.GrantLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.UserID == "" || req.PackageName == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	lot, err := h.svc.GrantLot(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, lot)
}

// Deduct resolves the feature's cost from the pricing table and charges
// the user. The caller names a feature, never an amount.
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Feature string `json:"feature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	cost, ok := pricing.Cost(req.Feature)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "unknown_feature")
		return
	}
	err := h.svc.ValidateAndDeduct(r.Context(), model.DeductRequest{
		UserID:  req.UserID,
		Feature: req.Feature,
		Cost:    cost,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"status": "deducted", "cost": cost})
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req model.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.Refund(r.Context(), req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_user_id")
		return
	}
	view, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.svc.ResetFreeAllowance(r.Context(), req.UserID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var ice *model.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		h.respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient_credits",
			"required":  ice.Required,
			"available": ice.Available,
		})
	case errors.Is(err, model.ErrAccountNotFound):
		h.respondError(w, http.StatusNotFound, "account_not_found")
	case errors.Is(err, model.ErrAccountExists):
		h.respondError(w, http.StatusConflict, "account_exists")
	case errors.Is(err, model.ErrContended):
		// Transient: the caller may retry the whole request.
		w.Header().Set("Retry-After", "1")
		h.respondError(w, http.StatusServiceUnavailable, "contended")
	case errors.Is(err, model.ErrInvalidAmount):
		h.respondError(w, http.StatusBadRequest, "invalid_amount")
	default:
		h.respondError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
