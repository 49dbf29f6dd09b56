// Package metrics exposes prometheus counters for ledger operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Deductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credlo_deductions_total",
		Help: "Successful credit deductions by feature.",
	}, []string{"feature"})

	InsufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credlo_insufficient_credits_total",
		Help: "Deductions rejected for lack of credits.",
	})

	Contended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credlo_lock_contention_total",
		Help: "Mutations that failed fast on the per-user row lock.",
	})

	Refunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credlo_refunds_total",
		Help: "Successful credit refunds.",
	})

	AllowanceResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credlo_allowance_resets_total",
		Help: "Monthly free allowance resets applied.",
	})

	RevokedCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credlo_revoked_credits_total",
		Help: "Credits revoked from expired purchased lots.",
	})
)
