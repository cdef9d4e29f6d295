package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kwanza-pay/kwanza_pay/internal/identity"
)

var (
	minAmount = decimal.RequireFromString("0.0001")
	maxAmount = decimal.RequireFromString("999999999999.9999")
)

// UserDirectory resolves owner accounts; consulted read-only to gate
// mutations.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// Engine orchestrates every balance mutation: idempotency check, validation,
// exclusive wallet lock, ledger append, balance save and idempotency record,
// as one atomic unit of work per request. Read-only queries bypass locking
// and the idempotency path entirely.
type Engine struct {
	store  Store
	users  UserDirectory
	cache  *BalanceCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewEngine builds a transaction engine. cache may be nil; ttl is the
// idempotency validity window.
func NewEngine(store Store, users UserDirectory, cache *BalanceCache, ttl time.Duration, logger *slog.Logger) *Engine {
	return &Engine{store: store, users: users, cache: cache, ttl: ttl, logger: logger}
}

// TopUp credits deposited funds to the owner's wallet.
func (e *Engine) TopUp(ctx context.Context, ownerID string, req OperationRequest) (OperationResult, error) {
	return e.mutate(ctx, ownerID, req, KindCredit, "Wallet top-up", "Top-up successful")
}

// GrantIncentive credits a bonus to the owner's wallet. It differs from
// TopUp only in the human-readable labels.
func (e *Engine) GrantIncentive(ctx context.Context, ownerID string, req OperationRequest) (OperationResult, error) {
	return e.mutate(ctx, ownerID, req, KindCredit, "Bonus/Incentive credit", "Incentive granted successfully")
}

// Spend debits the owner's wallet, failing with ErrInsufficientBalance when
// the balance does not cover the amount.
func (e *Engine) Spend(ctx context.Context, ownerID string, req OperationRequest) (OperationResult, error) {
	return e.mutate(ctx, ownerID, req, KindDebit, "Currency spend", "Spend successful")
}

func (e *Engine) mutate(ctx context.Context, ownerID string, req OperationRequest, kind EntryKind, defaultDesc, message string) (OperationResult, error) {
	if req.IdempotencyKey == "" {
		return OperationResult{}, fmt.Errorf("idempotency key is required")
	}

	e.logger.Info("processing wallet mutation",
		"owner_id", ownerID, "kind", string(kind), "asset", string(req.AssetType), "idempotency_key", req.IdempotencyKey)

	// Cheap replay check before validation or locking.
	if res, ok, err := e.replay(ctx, ownerID, req.IdempotencyKey); err != nil {
		return OperationResult{}, err
	} else if ok {
		e.logger.Info("returning stored result for duplicate request",
			"owner_id", ownerID, "idempotency_key", req.IdempotencyKey)
		return res, nil
	}

	if err := validateAmount(req.Amount); err != nil {
		return OperationResult{}, err
	}
	if err := e.gateOwner(ctx, ownerID); err != nil {
		return OperationResult{}, err
	}

	description := req.Description
	if description == "" {
		description = defaultDesc
	}

	var (
		result      OperationResult
		snapshotErr error
	)
	err := e.store.Mutate(ctx, func(tx MutationTx) error {
		w, err := tx.LockWallet(ctx, ownerID, req.AssetType)
		if err != nil {
			return err
		}

		var newBalance decimal.Decimal
		switch kind {
		case KindDebit:
			if w.Balance.LessThan(req.Amount) {
				return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, w.Balance, req.Amount)
			}
			newBalance = w.Balance.Sub(req.Amount)
		default:
			newBalance = w.Balance.Add(req.Amount)
		}

		entry, err := tx.AppendEntry(ctx, LedgerEntry{
			WalletID:       w.ID,
			Kind:           kind,
			Amount:         req.Amount,
			BalanceAfter:   newBalance,
			Description:    description,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		w.Balance = newBalance
		if _, err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		result = OperationResult{
			TransactionID: entry.ID,
			Kind:          entry.Kind,
			Amount:        entry.Amount,
			BalanceAfter:  entry.BalanceAfter,
			AssetType:     req.AssetType,
			Description:   entry.Description,
			ReferenceID:   entry.ReferenceID,
			Timestamp:     entry.CreatedAt,
			Message:       message,
		}

		snapshot, err := json.Marshal(result)
		if err != nil {
			// The financial writes stand; only the replay record is lost.
			snapshotErr = fmt.Errorf("%w: %v", ErrSerializationFailure, err)
			return nil
		}

		return tx.StoreIdempotency(ctx, IdempotencyRecord{
			Key:           req.IdempotencyKey,
			OwnerID:       ownerID,
			LedgerEntryID: entry.ID,
			Result:        snapshot,
			CreatedAt:     entry.CreatedAt,
			ExpiresAt:     entry.CreatedAt.Add(e.ttl),
		})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// A racing identical request committed first: hand back its result.
			if res, ok, rerr := e.replay(ctx, ownerID, req.IdempotencyKey); rerr == nil && ok {
				return res, nil
			}
			// No replayable record: the key belongs to another owner or its
			// record expired while the ledger entry remains.
			if entry, ok, lerr := e.store.EntryByIdempotencyKey(ctx, req.IdempotencyKey); lerr == nil && ok {
				return OperationResult{}, fmt.Errorf("%w: key already recorded by ledger entry %d", ErrDuplicateIdempotencyKey, entry.ID)
			}
		}
		return OperationResult{}, err
	}

	e.cache.Invalidate(ctx, ownerID, req.AssetType)

	if snapshotErr != nil {
		e.logger.Error("idempotency snapshot failed after commit",
			"owner_id", ownerID, "idempotency_key", req.IdempotencyKey, "error", snapshotErr)
		return OperationResult{}, snapshotErr
	}

	e.logger.Info("wallet mutation committed",
		"owner_id", ownerID, "kind", string(kind), "transaction_id", result.TransactionID,
		"balance_after", result.BalanceAfter.String())
	return result, nil
}

// GetBalance returns the current balance for the pair. It takes no lock and
// fails with ErrWalletNotFound when the wallet was never created; the
// mutation path creates wallets lazily, the read path deliberately does not.
func (e *Engine) GetBalance(ctx context.Context, ownerID string, asset AssetType) (BalanceView, error) {
	if view, ok := e.cache.Get(ctx, ownerID, asset); ok {
		return view, nil
	}

	w, err := e.store.FindWallet(ctx, ownerID, asset)
	if err != nil {
		return BalanceView{}, err
	}

	view := BalanceView{OwnerID: ownerID, AssetType: asset, Balance: w.Balance}
	e.cache.Set(ctx, view)
	return view, nil
}

// GetHistory returns ledger entries for the pair, newest first. With both
// range bounds set, entries are filtered to the inclusive window; otherwise
// limit (default 100) caps the most recent entries.
func (e *Engine) GetHistory(ctx context.Context, ownerID string, asset AssetType, from, to *time.Time, limit int) (HistoryView, error) {
	w, err := e.store.FindWallet(ctx, ownerID, asset)
	if err != nil {
		return HistoryView{}, err
	}

	var entries []LedgerEntry
	if from != nil && to != nil {
		entries, err = e.store.EntriesByWalletInRange(ctx, w.ID, *from, *to)
	} else {
		if limit <= 0 {
			limit = DefaultHistoryLimit
		}
		entries, err = e.store.EntriesByWallet(ctx, w.ID, limit)
	}
	if err != nil {
		return HistoryView{}, err
	}

	view := HistoryView{
		AssetType:      asset,
		CurrentBalance: w.Balance,
		Transactions:   make([]HistoryEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		view.Transactions = append(view.Transactions, HistoryEntry{
			ID:           entry.ID,
			Kind:         entry.Kind,
			Amount:       entry.Amount,
			BalanceAfter: entry.BalanceAfter,
			Description:  entry.Description,
			ReferenceID:  entry.ReferenceID,
			Timestamp:    entry.CreatedAt,
		})
	}
	return view, nil
}

// replay returns the stored result for (key, owner) when a non-expired
// record exists. Expired records are treated as unseen.
func (e *Engine) replay(ctx context.Context, ownerID, key string) (OperationResult, bool, error) {
	rec, ok, err := e.store.LookupIdempotency(ctx, key, ownerID)
	if err != nil {
		return OperationResult{}, false, err
	}
	if !ok || rec.Expired(time.Now().UTC()) {
		return OperationResult{}, false, nil
	}

	var result OperationResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return OperationResult{}, false, fmt.Errorf("%w: %v", ErrSerializationFailure, err)
	}
	return result, true, nil
}

func (e *Engine) gateOwner(ctx context.Context, ownerID string) error {
	user, err := e.users.FindByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, ownerID)
		}
		return err
	}
	if user.Status != identity.StatusActive {
		return fmt.Errorf("%w: account is %s", ErrUserNotActive, user.Status)
	}
	return nil
}

// validateAmount enforces the fixed-point bounds before any lock is taken.
func validateAmount(amount decimal.Decimal) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(4)) {
		return fmt.Errorf("%w: at most 4 decimal places allowed", ErrInvalidAmount)
	}
	if amount.LessThan(minAmount) {
		return fmt.Errorf("%w: must be at least %s", ErrInvalidAmount, minAmount)
	}
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: cannot exceed %s", ErrInvalidAmount, maxAmount)
	}
	return nil
}
