package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credlo/internal/model"
	"credlo/internal/repository"
)

// memStore is an in-memory Store for exercising the service without
// Postgres. WithinTx stages all writes and only applies them when the
// callback succeeds, mirroring transaction rollback.
type memStore struct {
	accounts map[string]model.CreditAccount
	lots     map[string]model.CreditLot
	txns     []model.CreditTransaction

	contended bool  // next LockAccount fails with ErrContended
	failWrite error // AppendTransaction fails with this error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]model.CreditAccount{},
		lots:     map[string]model.CreditLot{},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	staged := &memTx{
		store:    m,
		accounts: map[string]model.CreditAccount{},
		lots:     map[string]model.CreditLot{},
	}
	for k, v := range m.accounts {
		staged.accounts[k] = v
	}
	for k, v := range m.lots {
		staged.lots[k] = v
	}

	if err := fn(staged); err != nil {
		return err
	}

	m.accounts = staged.accounts
	m.lots = staged.lots
	m.txns = append(m.txns, staged.txns...)
	return nil
}

func (m *memStore) CreateAccount(ctx context.Context, acct *model.CreditAccount) error {
	if _, ok := m.accounts[acct.UserID]; ok {
		return model.ErrAccountExists
	}
	m.accounts[acct.UserID] = *acct
	return nil
}

func (m *memStore) Account(ctx context.Context, userID string) (*model.CreditAccount, error) {
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &acct, nil
}

func (m *memStore) ActiveLots(ctx context.Context, userID string, now time.Time) ([]model.CreditLot, error) {
	var lots []model.CreditLot
	for _, lot := range m.lots {
		if lot.UserID == userID && lot.Status == model.LotActive && lot.ExpiresAt.After(now) {
			lots = append(lots, lot)
		}
	}
	sortLots(lots)
	return lots, nil
}

func (m *memStore) DueForReset(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for id, acct := range m.accounts {
		if !acct.FreeResetDate.After(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memTx struct {
	store    *memStore
	accounts map[string]model.CreditAccount
	lots     map[string]model.CreditLot
	txns     []model.CreditTransaction
}

func (t *memTx) LockAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if t.store.contended {
		return nil, model.ErrContended
	}
	acct, ok := t.accounts[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &acct, nil
}

func (t *memTx) LotsForUpdate(ctx context.Context, userID string) ([]model.CreditLot, error) {
	var lots []model.CreditLot
	for _, lot := range t.lots {
		if lot.UserID == userID && lot.Status == model.LotActive {
			lots = append(lots, lot)
		}
	}
	sortLots(lots)
	return lots, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, acct *model.CreditAccount) error {
	if _, ok := t.accounts[acct.UserID]; !ok {
		return model.ErrAccountNotFound
	}
	t.accounts[acct.UserID] = *acct
	return nil
}

func (t *memTx) UpdateLot(ctx context.Context, lotID string, remaining int64, status model.LotStatus) error {
	lot := t.lots[lotID]
	lot.Remaining = remaining
	lot.Status = status
	t.lots[lotID] = lot
	return nil
}

func (t *memTx) InsertLot(ctx context.Context, lot *model.CreditLot) error {
	t.lots[lot.ID] = *lot
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, txn *model.CreditTransaction) error {
	if t.store.failWrite != nil {
		return t.store.failWrite
	}
	t.txns = append(t.txns, *txn)
	return nil
}

func sortLots(lots []model.CreditLot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ExpiresAt.Equal(lots[j].ExpiresAt) {
			return lots[i].ExpiresAt.Before(lots[j].ExpiresAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

type memBus struct {
	topics   []string
	payloads [][]byte
}

func (b *memBus) Publish(topic string, data []byte) error {
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, data)
	return nil
}

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*CreditService, *memStore, *memBus) {
	t.Helper()
	store := newMemStore()
	bus := &memBus{}
	svc := NewCreditService(store, bus, WithClock(func() time.Time { return testNow }))
	return svc, store, bus
}

func seedAccount(t *testing.T, svc *CreditService, userID string, allowance int64) {
	t.Helper()
	require.NoError(t, svc.CreateAccount(context.Background(), userID, allowance))
}

func seedLot(store *memStore, id, userID string, remaining int64, expiresAt time.Time) {
	store.lots[id] = model.CreditLot{
		ID:           id,
		UserID:       userID,
		PackageName:  "starter",
		TotalCredits: remaining,
		Remaining:    remaining,
		ExpiresAt:    expiresAt,
		Status:       model.LotActive,
		CreatedAt:    testNow,
	}
	acct := store.accounts[userID]
	acct.Balance += remaining
	store.accounts[userID] = acct
}

// checkInvariant asserts balance == freeRemaining + sum of live ACTIVE lots.
func checkInvariant(t *testing.T, store *memStore, userID string) {
	t.Helper()
	acct := store.accounts[userID]
	var lotSum int64
	for _, lot := range store.lots {
		if lot.UserID == userID && lot.Status == model.LotActive && lot.ExpiresAt.After(testNow) {
			lotSum += lot.Remaining
		}
	}
	assert.Equal(t, acct.Balance, acct.FreeRemaining+lotSum, "balance invariant broken")
}

func TestValidateAndDeduct_FreeFirst(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 3)
	seedLot(store, "lot-a", "u1", 10, testNow.Add(24*time.Hour))

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.subtitle_generate", Cost: 5,
	})
	require.NoError(t, err)

	acct := store.accounts["u1"]
	assert.Equal(t, int64(0), acct.FreeRemaining)
	assert.Equal(t, int64(8), store.lots["lot-a"].Remaining)
	assert.Equal(t, int64(8), acct.Balance)
	checkInvariant(t, store, "u1")
}

func TestValidateAndDeduct_ExpiryOrder(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 0)
	seedLot(store, "lot-later", "u1", 5, testNow.Add(72*time.Hour))
	seedLot(store, "lot-soon", "u1", 5, testNow.Add(24*time.Hour))

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.clip_highlights", Cost: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), store.lots["lot-soon"].Remaining)
	assert.Equal(t, model.LotExhausted, store.lots["lot-soon"].Status)
	assert.Equal(t, int64(3), store.lots["lot-later"].Remaining)
	assert.Equal(t, model.LotActive, store.lots["lot-later"].Status)
	checkInvariant(t, store, "u1")
}

func TestValidateAndDeduct_InsufficientLeavesStateUntouched(t *testing.T) {
	svc, store, bus := newTestService(t)
	seedAccount(t, svc, "u1", 3)
	seedLot(store, "lot-a", "u1", 5, testNow.Add(24*time.Hour))

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.clip_highlights", Cost: 25,
	})

	var ice *model.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, int64(25), ice.Required)
	assert.Equal(t, int64(8), ice.Available)

	assert.Equal(t, int64(3), store.accounts["u1"].FreeRemaining)
	assert.Equal(t, int64(8), store.accounts["u1"].Balance)
	assert.Equal(t, int64(5), store.lots["lot-a"].Remaining)
	assert.Empty(t, store.txns)
	assert.Empty(t, bus.topics)
}

func TestValidateAndDeduct_MissingAccount(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "ghost", Feature: "ai.title_suggest", Cost: 1,
	})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestValidateAndDeduct_Contended(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 10)
	store.contended = true

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.title_suggest", Cost: 1,
	})
	assert.ErrorIs(t, err, model.ErrContended)
	assert.Equal(t, int64(10), store.accounts["u1"].FreeRemaining)
}

func TestValidateAndDeduct_WriteFailureRollsBack(t *testing.T) {
	svc, store, bus := newTestService(t)
	seedAccount(t, svc, "u1", 10)
	store.failWrite = errors.New("disk on fire")

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.title_suggest", Cost: 1,
	})
	require.Error(t, err)

	assert.Equal(t, int64(10), store.accounts["u1"].FreeRemaining)
	assert.Equal(t, int64(10), store.accounts["u1"].Balance)
	assert.Empty(t, store.txns)
	assert.Empty(t, bus.topics)
}

func TestValidateAndDeduct_AppendsAuditRowAndPublishes(t *testing.T) {
	svc, store, bus := newTestService(t)
	seedAccount(t, svc, "u1", 10)

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.thumbnail_score", Cost: 3,
	})
	require.NoError(t, err)

	require.Len(t, store.txns, 1)
	txn := store.txns[0]
	assert.Equal(t, model.TxDeduct, txn.Type)
	assert.Equal(t, int64(-3), txn.Amount)
	assert.Equal(t, int64(7), txn.BalanceAfter)
	assert.Equal(t, "ai.thumbnail_score", txn.Feature)
	assert.Equal(t, store.accounts["u1"].Balance, txn.BalanceAfter)

	require.Equal(t, []string{TopicCreditDeducted}, bus.topics)
}

func TestValidateAndDeduct_SweepsExpiredLotWithRevoke(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 5)
	seedLot(store, "lot-dead", "u1", 4, testNow.Add(-time.Hour))

	err := svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.title_suggest", Cost: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, model.LotExpired, store.lots["lot-dead"].Status)

	require.Len(t, store.txns, 2)
	assert.Equal(t, model.TxRevoke, store.txns[0].Type)
	assert.Equal(t, int64(-4), store.txns[0].Amount)
	assert.Equal(t, model.TxDeduct, store.txns[1].Type)
	assert.Equal(t, int64(3), store.txns[1].BalanceAfter)
	checkInvariant(t, store, "u1")
}

func TestRefund_CappedAtMonthlyAllowance(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 30)

	require.NoError(t, svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.description_generate", Cost: 2,
	}))

	err := svc.Refund(context.Background(), model.RefundRequest{
		UserID: "u1", Feature: "ai.description_generate", Amount: 5,
	})
	require.NoError(t, err)

	acct := store.accounts["u1"]
	assert.Equal(t, int64(30), acct.FreeRemaining, "refund must not exceed the monthly cap")
	assert.Equal(t, int64(30), acct.Balance)

	refund := store.txns[len(store.txns)-1]
	assert.Equal(t, model.TxRefund, refund.Type)
	assert.Equal(t, int64(2), refund.Amount, "audit row records the applied delta, not the requested one")
	assert.Equal(t, int64(30), refund.BalanceAfter)
	checkInvariant(t, store, "u1")
}

func TestRefund_FullyCappedStillAudited(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 30)

	err := svc.Refund(context.Background(), model.RefundRequest{
		UserID: "u1", Feature: "ai.title_suggest", Amount: 5,
	})
	require.NoError(t, err)

	require.Len(t, store.txns, 1)
	assert.Equal(t, int64(0), store.txns[0].Amount)
	assert.Equal(t, int64(30), store.accounts["u1"].FreeRemaining)
}

func TestGetBalance_MissingAccountIsZero(t *testing.T) {
	svc, _, _ := newTestService(t)

	view, err := svc.GetBalance(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, &model.BalanceView{UserID: "ghost"}, view)
}

func TestGetBalance_ExcludesExpiredLotsWithoutSweep(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 10)
	seedLot(store, "lot-live", "u1", 20, testNow.Add(24*time.Hour))
	seedLot(store, "lot-dead", "u1", 7, testNow.Add(-time.Hour))

	view, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(10), view.FreeRemaining)
	assert.Equal(t, int64(20), view.PurchasedBalance)
	assert.Equal(t, int64(30), view.TotalBalance)
}

func TestResetFreeAllowance_IdempotentPerCycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 30)

	require.NoError(t, svc.ValidateAndDeduct(context.Background(), model.DeductRequest{
		UserID: "u1", Feature: "ai.subtitle_generate", Cost: 10,
	}))

	// Force the account into an elapsed cycle.
	acct := store.accounts["u1"]
	acct.FreeResetDate = testNow.Add(-time.Hour)
	store.accounts["u1"] = acct

	require.NoError(t, svc.ResetFreeAllowance(context.Background(), "u1"))

	acct = store.accounts["u1"]
	assert.Equal(t, int64(30), acct.FreeRemaining)
	assert.Equal(t, model.NextResetDate(testNow), acct.FreeResetDate)

	resets := txnsOfType(store.txns, model.TxFreeReset)
	require.Len(t, resets, 1)
	assert.Equal(t, int64(10), resets[0].Amount)

	// Second call in the same cycle changes nothing.
	require.NoError(t, svc.ResetFreeAllowance(context.Background(), "u1"))
	assert.Equal(t, int64(30), store.accounts["u1"].FreeRemaining)
	assert.Len(t, txnsOfType(store.txns, model.TxFreeReset), 1)
	checkInvariant(t, store, "u1")
}

func TestCreateAccount_Conflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedAccount(t, svc, "u1", 30)

	err := svc.CreateAccount(context.Background(), "u1", 30)
	assert.ErrorIs(t, err, model.ErrAccountExists)
}

func TestGrantLot_BumpsBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedAccount(t, svc, "u1", 10)

	lot, err := svc.GrantLot(context.Background(), model.GrantLotRequest{
		UserID:      "u1",
		PackageName: "creator-500",
		Credits:     500,
		PriceCents:  1999,
		ExpiresAt:   testNow.AddDate(0, 6, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, model.LotActive, lot.Status)
	assert.Equal(t, int64(500), lot.Remaining)
	assert.Equal(t, int64(510), store.accounts["u1"].Balance)
	checkInvariant(t, store, "u1")
}

func TestGrantLot_RejectsPastExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedAccount(t, svc, "u1", 10)

	_, err := svc.GrantLot(context.Background(), model.GrantLotRequest{
		UserID: "u1", PackageName: "stale", Credits: 100, ExpiresAt: testNow.Add(-time.Minute),
	})
	require.Error(t, err)
}

func TestInvariantHoldsAcrossMixedOperations(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, svc, "u1", 20)
	seedLot(store, "lot-a", "u1", 15, testNow.Add(24*time.Hour))
	seedLot(store, "lot-b", "u1", 10, testNow.Add(48*time.Hour))

	steps := []func() error{
		func() error {
			return svc.ValidateAndDeduct(ctx, model.DeductRequest{UserID: "u1", Feature: "ai.clip_highlights", Cost: 25})
		},
		func() error {
			return svc.Refund(ctx, model.RefundRequest{UserID: "u1", Feature: "ai.clip_highlights", Amount: 7})
		},
		func() error {
			return svc.ValidateAndDeduct(ctx, model.DeductRequest{UserID: "u1", Feature: "ai.subtitle_generate", Cost: 10})
		},
		func() error { return svc.ResetFreeAllowance(ctx, "u1") },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		checkInvariant(t, store, "u1")
	}

	// Every sum in the audit trail replays to the final balance.
	var replayed int64 = 20 + 15 + 10
	for _, txn := range store.txns {
		replayed += txn.Amount
		assert.Equal(t, txn.BalanceAfter, replayed)
	}
	assert.Equal(t, store.accounts["u1"].Balance, replayed)
}

func txnsOfType(txns []model.CreditTransaction, typ model.TransactionType) []model.CreditTransaction {
	var out []model.CreditTransaction
	for _, txn := range txns {
		if txn.Type == typ {
			out = append(out, txn)
		}
	}
	return out
}
