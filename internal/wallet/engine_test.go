package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kwanza-pay/kwanza_pay/internal/identity"
	"github.com/kwanza-pay/kwanza_pay/internal/logging"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, string) {
	t.Helper()
	store := NewMemoryStore()
	users := identity.NewMemoryRepository()
	owner := identity.User{
		ID:        uuid.NewString(),
		Phone:     "+244900000001",
		Name:      "Test Owner",
		Status:    identity.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := users.Create(context.Background(), owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	engine := NewEngine(store, users, nil, 24*time.Hour, logging.Discard())
	return engine, store, owner.ID
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTopUpCreatesWalletAndLedgerEntry(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.TopUp(ctx, owner, OperationRequest{
		IdempotencyKey: "k-1",
		Amount:         dec("100.50"),
		AssetType:      AssetCoin,
	})
	if err != nil {
		t.Fatalf("topup failed: %v", err)
	}
	if res.Kind != KindCredit {
		t.Fatalf("expected CREDIT, got %s", res.Kind)
	}
	if !res.BalanceAfter.Equal(dec("100.50")) {
		t.Fatalf("unexpected balance after: %s", res.BalanceAfter)
	}
	if res.Description != "Wallet top-up" {
		t.Fatalf("unexpected default description: %q", res.Description)
	}
	if res.Message != "Top-up successful" {
		t.Fatalf("unexpected message: %q", res.Message)
	}

	view, err := engine.GetBalance(ctx, owner, AssetCoin)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !view.Balance.Equal(dec("100.50")) {
		t.Fatalf("unexpected balance: %s", view.Balance)
	}

	w, err := store.FindWallet(ctx, owner, AssetCoin)
	if err != nil {
		t.Fatalf("find wallet: %v", err)
	}
	entries, err := store.EntriesByWallet(ctx, w.ID, DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
}

func TestReplayReturnsIdenticalResultWithOneEntry(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	req := OperationRequest{IdempotencyKey: "replay-1", Amount: dec("25"), AssetType: AssetCoin}
	first, err := engine.TopUp(ctx, owner, req)
	if err != nil {
		t.Fatalf("first topup: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := engine.TopUp(ctx, owner, req)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if again.TransactionID != first.TransactionID || !again.BalanceAfter.Equal(first.BalanceAfter) {
			t.Fatalf("replay returned different result: %+v vs %+v", again, first)
		}
	}

	view, err := engine.GetBalance(ctx, owner, AssetCoin)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !view.Balance.Equal(dec("25")) {
		t.Fatalf("balance changed on replay: %s", view.Balance)
	}

	w, _ := store.FindWallet(ctx, owner, AssetCoin)
	entries, _ := store.EntriesByWallet(ctx, w.ID, DefaultHistoryLimit)
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
}

func TestSpendInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.TopUp(ctx, owner, OperationRequest{IdempotencyKey: "seed", Amount: dec("10"), AssetType: AssetCoin}); err != nil {
		t.Fatalf("seed topup: %v", err)
	}

	_, err := engine.Spend(ctx, owner, OperationRequest{IdempotencyKey: "overdraw", Amount: dec("10.0001"), AssetType: AssetCoin})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	view, _ := engine.GetBalance(ctx, owner, AssetCoin)
	if !view.Balance.Equal(dec("10")) {
		t.Fatalf("balance changed by failed debit: %s", view.Balance)
	}
	w, _ := store.FindWallet(ctx, owner, AssetCoin)
	entries, _ := store.EntriesByWallet(ctx, w.ID, DefaultHistoryLimit)
	if len(entries) != 1 {
		t.Fatalf("failed debit left a ledger entry: %d entries", len(entries))
	}

	// The failed key must be reusable.
	if _, err := engine.Spend(ctx, owner, OperationRequest{IdempotencyKey: "overdraw", Amount: dec("5"), AssetType: AssetCoin}); err != nil {
		t.Fatalf("reusing key of a failed mutation: %v", err)
	}
}

func TestAmountValidation(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"zero", decimal.Zero},
		{"negative", dec("-5")},
		{"below minimum", dec("0.00009")},
		{"too many decimals", dec("1.00001")},
		{"above maximum", dec("1000000000000")},
	}
	for _, tc := range cases {
		_, err := engine.TopUp(ctx, owner, OperationRequest{IdempotencyKey: "amt-" + tc.name, Amount: tc.amount, AssetType: AssetCoin})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%s: expected ErrInvalidAmount, got %v", tc.name, err)
		}
	}

	if _, err := store.FindWallet(ctx, owner, AssetCoin); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("rejected amounts must not create a wallet, got %v", err)
	}
}

func TestOwnerGates(t *testing.T) {
	store := NewMemoryStore()
	users := identity.NewMemoryRepository()
	engine := NewEngine(store, users, nil, 24*time.Hour, logging.Discard())
	ctx := context.Background()

	req := OperationRequest{IdempotencyKey: "gate-1", Amount: dec("5"), AssetType: AssetCoin}

	if _, err := engine.TopUp(ctx, "missing-owner", req); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	suspended := identity.User{ID: uuid.NewString(), Phone: "+244900000002", Status: identity.StatusSuspended}
	if err := users.Create(ctx, suspended); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := engine.TopUp(ctx, suspended.ID, req); !errors.Is(err, ErrUserNotActive) {
		t.Fatalf("expected ErrUserNotActive, got %v", err)
	}
}

func TestConcurrentSameKeyExecutesOnce(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	const workers = 50
	req := OperationRequest{IdempotencyKey: "race-1", Amount: dec("7"), AssetType: AssetCoin}

	results := make([]OperationResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.TopUp(ctx, owner, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].TransactionID != results[0].TransactionID || !results[i].BalanceAfter.Equal(results[0].BalanceAfter) {
			t.Fatalf("worker %d got a different result: %+v vs %+v", i, results[i], results[0])
		}
	}

	view, _ := engine.GetBalance(ctx, owner, AssetCoin)
	if !view.Balance.Equal(dec("7")) {
		t.Fatalf("expected single execution, balance %s", view.Balance)
	}
	w, _ := store.FindWallet(ctx, owner, AssetCoin)
	entries, _ := store.EntriesByWallet(ctx, w.ID, DefaultHistoryLimit)
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
}

func TestConcurrentUniqueKeysAllApply(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.TopUp(ctx, owner, OperationRequest{
				IdempotencyKey: fmt.Sprintf("unique-%d", i),
				Amount:         dec("1"),
				AssetType:      AssetCoin,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	view, _ := engine.GetBalance(ctx, owner, AssetCoin)
	if !view.Balance.Equal(dec("50")) {
		t.Fatalf("expected balance 50, got %s", view.Balance)
	}
	w, _ := store.FindWallet(ctx, owner, AssetCoin)
	entries, _ := store.EntriesByWallet(ctx, w.ID, workers+1)
	if len(entries) != workers {
		t.Fatalf("expected %d ledger entries, got %d", workers, len(entries))
	}
	if !entries[0].BalanceAfter.Equal(view.Balance) {
		t.Fatalf("newest entry balanceAfter %s does not match balance %s", entries[0].BalanceAfter, view.Balance)
	}
}

func TestConcurrentFirstTouchCreatesOneWallet(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = engine.TopUp(ctx, owner, OperationRequest{
				IdempotencyKey: fmt.Sprintf("first-%d", i),
				Amount:         dec("1"),
				AssetType:      AssetPoint,
			})
		}(i)
	}
	wg.Wait()

	w, err := store.FindWallet(ctx, owner, AssetPoint)
	if err != nil {
		t.Fatalf("find wallet: %v", err)
	}
	entries, _ := store.EntriesByWallet(ctx, w.ID, workers+1)
	if len(entries) != workers {
		t.Fatalf("expected all %d entries on one wallet, got %d", workers, len(entries))
	}
	if !w.Balance.Equal(dec("20")) {
		t.Fatalf("expected balance 20, got %s", w.Balance)
	}
}

func TestExpiredRecordIsTreatedAsAbsent(t *testing.T) {
	engine, store, owner := newTestEngine(t)
	ctx := context.Background()

	stale := OperationResult{TransactionID: 999, Kind: KindCredit, Amount: dec("5"), BalanceAfter: dec("5"), AssetType: AssetCoin}
	payload, _ := json.Marshal(stale)
	SeedIdempotency(store, IdempotencyRecord{
		Key:       "stale-key",
		OwnerID:   owner,
		Result:    payload,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
	})

	res, err := engine.TopUp(ctx, owner, OperationRequest{IdempotencyKey: "stale-key", Amount: dec("30"), AssetType: AssetCoin})
	if err != nil {
		t.Fatalf("topup with expired key: %v", err)
	}
	if res.TransactionID == stale.TransactionID {
		t.Fatalf("expired record was replayed instead of re-executed")
	}
	if !res.BalanceAfter.Equal(dec("30")) {
		t.Fatalf("unexpected balance after re-execution: %s", res.BalanceAfter)
	}

	// The fresh record supersedes the expired one.
	rec, ok, _ := store.LookupIdempotency(ctx, "stale-key", owner)
	if !ok || rec.Expired(time.Now().UTC()) {
		t.Fatalf("expected a fresh idempotency record")
	}
}

func TestIdempotencyScopedToOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := identity.NewMemoryRepository()
	engine := NewEngine(store, users, nil, 24*time.Hour, logging.Discard())

	owner := identity.User{ID: uuid.NewString(), Phone: "+244900000001", Status: identity.StatusActive}
	other := identity.User{ID: uuid.NewString(), Phone: "+244900000003", Status: identity.StatusActive}
	for _, u := range []identity.User{owner, other} {
		if err := users.Create(ctx, u); err != nil {
			t.Fatalf("create owner: %v", err)
		}
	}

	if _, err := engine.TopUp(ctx, owner.ID, OperationRequest{IdempotencyKey: "shared", Amount: dec("5"), AssetType: AssetCoin}); err != nil {
		t.Fatalf("first owner topup: %v", err)
	}
	// Same key under a different owner is a distinct request; the ledger-level
	// key uniqueness still rejects reuse across owners.
	_, err := engine.TopUp(ctx, other.ID, OperationRequest{IdempotencyKey: "shared", Amount: dec("5"), AssetType: AssetCoin})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
}

func TestGetBalanceUnknownWallet(t *testing.T) {
	engine, _, owner := newTestEngine(t)

	_, err := engine.GetBalance(context.Background(), owner, AssetCoin)
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestGetHistoryRangeAndLimit(t *testing.T) {
	engine, _, owner := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := engine.TopUp(ctx, owner, OperationRequest{
			IdempotencyKey: fmt.Sprintf("hist-%d", i),
			Amount:         dec("10"),
			AssetType:      AssetCoin,
		}); err != nil {
			t.Fatalf("topup %d: %v", i, err)
		}
	}

	view, err := engine.GetHistory(ctx, owner, AssetCoin, nil, nil, 3)
	if err != nil {
		t.Fatalf("history with limit: %v", err)
	}
	if len(view.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(view.Transactions))
	}
	if !view.CurrentBalance.Equal(dec("50")) {
		t.Fatalf("unexpected current balance: %s", view.CurrentBalance)
	}
	for i := 1; i < len(view.Transactions); i++ {
		if view.Transactions[i].Timestamp.After(view.Transactions[i-1].Timestamp) {
			t.Fatalf("history not newest first")
		}
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	ranged, err := engine.GetHistory(ctx, owner, AssetCoin, &from, &to, 0)
	if err != nil {
		t.Fatalf("history with range: %v", err)
	}
	if len(ranged.Transactions) != 5 {
		t.Fatalf("expected 5 transactions in range, got %d", len(ranged.Transactions))
	}

	empty, err := engine.GetHistory(ctx, owner, AssetCoin, &from, &from, 0)
	if err != nil {
		t.Fatalf("history with empty range: %v", err)
	}
	if len(empty.Transactions) != 0 {
		t.Fatalf("expected no transactions before first entry, got %d", len(empty.Transactions))
	}
}

func TestAssetTypesIsolated(t *testing.T) {
	engine, _, owner := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.TopUp(ctx, owner, OperationRequest{IdempotencyKey: "coin-1", Amount: dec("10"), AssetType: AssetCoin}); err != nil {
		t.Fatalf("coin topup: %v", err)
	}
	if _, err := engine.GrantIncentive(ctx, owner, OperationRequest{IdempotencyKey: "point-1", Amount: dec("3"), AssetType: AssetPoint}); err != nil {
		t.Fatalf("point incentive: %v", err)
	}

	coin, _ := engine.GetBalance(ctx, owner, AssetCoin)
	point, _ := engine.GetBalance(ctx, owner, AssetPoint)
	if !coin.Balance.Equal(dec("10")) || !point.Balance.Equal(dec("3")) {
		t.Fatalf("asset balances bled into each other: coin %s point %s", coin.Balance, point.Balance)
	}
}
