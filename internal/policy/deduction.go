// Package policy computes how a requested credit cost is drawn from the
// free pool and the purchased lots. It is pure: no clock, no store, no
// side effects, so every ordering rule can be tested in isolation.
package policy

import (
	"credlo/internal/model"
)

// LotDraw is one lot's share of a deduction plan.
type LotDraw struct {
	LotID     string
	Amount    int64
	Exhausted bool // remaining hits zero after this draw
}

// Plan describes exactly how a cost is satisfied. FromFree plus the sum
// of lot draws always equals the requested cost.
type Plan struct {
	FromFree int64
	Draws    []LotDraw
}

// Total returns the full amount the plan consumes.
func (p Plan) Total() int64 {
	t := p.FromFree
	for _, d := range p.Draws {
		t += d.Amount
	}
	return t
}

// Compute builds a deduction plan for cost against the free pool and the
// given lots. Lots must already be filtered to active, unexpired ones and
// ordered soonest-expiring first; the plan consumes free credits before
// touching any lot, then walks the lots in order. When the spendable
// total is short, it returns an InsufficientCreditsError and no plan.
func Compute(cost, freeRemaining int64, lots []model.CreditLot) (Plan, error) {
	if cost <= 0 {
		return Plan{}, model.ErrInvalidAmount
	}

	available := freeRemaining
	for _, lot := range lots {
		available += lot.Remaining
	}
	if available < cost {
		return Plan{}, &model.InsufficientCreditsError{Required: cost, Available: available}
	}

	plan := Plan{FromFree: min(cost, freeRemaining)}
	need := cost - plan.FromFree

	for _, lot := range lots {
		if need == 0 {
			break
		}
		take := min(need, lot.Remaining)
		if take == 0 {
			continue
		}
		plan.Draws = append(plan.Draws, LotDraw{
			LotID:     lot.ID,
			Amount:    take,
			Exhausted: lot.Remaining == take,
		})
		need -= take
	}

	return plan, nil
}
