package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credlo/internal/model"
)

func lot(id string, remaining int64, expiresIn time.Duration) model.CreditLot {
	return model.CreditLot{
		ID:        id,
		Remaining: remaining,
		ExpiresAt: time.Now().Add(expiresIn),
		Status:    model.LotActive,
	}
}

func TestCompute_FreeFirst(t *testing.T) {
	plan, err := Compute(5, 3, []model.CreditLot{lot("a", 10, time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, int64(3), plan.FromFree)
	require.Len(t, plan.Draws, 1)
	assert.Equal(t, "a", plan.Draws[0].LotID)
	assert.Equal(t, int64(2), plan.Draws[0].Amount)
	assert.False(t, plan.Draws[0].Exhausted)
	assert.Equal(t, int64(5), plan.Total())
}

func TestCompute_FreeCoversEverything(t *testing.T) {
	plan, err := Compute(4, 10, []model.CreditLot{lot("a", 5, time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, int64(4), plan.FromFree)
	assert.Empty(t, plan.Draws)
}

func TestCompute_DrainsLotsInGivenOrder(t *testing.T) {
	lots := []model.CreditLot{
		lot("soon", 5, time.Hour),
		lot("later", 5, 48*time.Hour),
	}

	plan, err := Compute(7, 0, lots)
	require.NoError(t, err)

	require.Len(t, plan.Draws, 2)
	assert.Equal(t, "soon", plan.Draws[0].LotID)
	assert.Equal(t, int64(5), plan.Draws[0].Amount)
	assert.True(t, plan.Draws[0].Exhausted)
	assert.Equal(t, "later", plan.Draws[1].LotID)
	assert.Equal(t, int64(2), plan.Draws[1].Amount)
	assert.False(t, plan.Draws[1].Exhausted)
}

func TestCompute_ExactExhaustion(t *testing.T) {
	plan, err := Compute(8, 3, []model.CreditLot{lot("a", 5, time.Hour)})
	require.NoError(t, err)

	require.Len(t, plan.Draws, 1)
	assert.True(t, plan.Draws[0].Exhausted)
}

func TestCompute_SkipsEmptyLots(t *testing.T) {
	lots := []model.CreditLot{
		lot("empty", 0, time.Hour),
		lot("full", 10, 2*time.Hour),
	}

	plan, err := Compute(4, 0, lots)
	require.NoError(t, err)

	require.Len(t, plan.Draws, 1)
	assert.Equal(t, "full", plan.Draws[0].LotID)
}

func TestCompute_Insufficient(t *testing.T) {
	_, err := Compute(20, 3, []model.CreditLot{lot("a", 5, time.Hour)})

	var ice *model.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, int64(20), ice.Required)
	assert.Equal(t, int64(8), ice.Available)
}

func TestCompute_RejectsNonPositiveCost(t *testing.T) {
	for _, cost := range []int64{0, -3} {
		_, err := Compute(cost, 10, nil)
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
	}
}
