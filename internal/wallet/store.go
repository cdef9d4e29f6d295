package wallet

import (
	"context"
	"time"
)

// Store is the persistence contract the transaction engine runs against.
// Read methods are lock-free and may race with in-flight mutations
// (read-committed semantics). All writes happen through Mutate.
type Store interface {
	// FindWallet returns the wallet for the pair or ErrWalletNotFound.
	FindWallet(ctx context.Context, ownerID string, asset AssetType) (Wallet, error)

	// EntriesByWallet returns at most limit entries, newest first.
	EntriesByWallet(ctx context.Context, walletID int64, limit int) ([]LedgerEntry, error)

	// EntriesByWalletInRange returns entries with from <= createdAt <= to,
	// newest first.
	EntriesByWalletInRange(ctx context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error)

	// EntryByIdempotencyKey finds the single ledger entry appended under key.
	EntryByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, bool, error)

	// LookupIdempotency returns the stored record for (key, owner) if any.
	// Expiry is the caller's concern.
	LookupIdempotency(ctx context.Context, key, ownerID string) (IdempotencyRecord, bool, error)

	// PurgeExpiredIdempotency removes records whose window passed before now
	// and reports how many were deleted. Best-effort, out-of-band.
	PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)

	// Mutate runs fn inside one storage transaction. Any wallet lock taken
	// via MutationTx.LockWallet is held until the transaction commits or
	// rolls back; a non-nil error from fn discards every staged write.
	Mutate(ctx context.Context, fn func(tx MutationTx) error) error
}

// MutationTx is the transaction-scoped write surface of the locked critical
// section: lock acquisition, ledger append, balance save and idempotency
// record all commit or roll back as one unit.
type MutationTx interface {
	// LockWallet blocks until it holds the exclusive lock for the pair,
	// creating a zero-balance wallet first if none exists. Creation under
	// concurrent first access yields exactly one wallet.
	LockWallet(ctx context.Context, ownerID string, asset AssetType) (Wallet, error)

	// SaveWallet persists balance and bumps the version counter. A version
	// mismatch surfaces ErrConcurrentModification.
	SaveWallet(ctx context.Context, w Wallet) (Wallet, error)

	// AppendEntry assigns identity and timestamp and stores the entry
	// immutably. A key already present surfaces ErrDuplicateIdempotencyKey.
	AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)

	// StoreIdempotency inserts the record for (key, owner). An existing
	// still-valid record is left untouched; an expired one is superseded.
	StoreIdempotency(ctx context.Context, rec IdempotencyRecord) error
}
