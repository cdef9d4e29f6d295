package wallet

import "errors"

var (
	// ErrInvalidAmount occurs when a mutation amount is missing, below the
	// minimum unit, above the maximum, or carries more than four decimal
	// places. Reported before any lock is taken.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUserNotFound occurs when the owner of a mutation cannot be resolved.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserNotActive occurs when the owner's account status blocks mutation.
	ErrUserNotActive = errors.New("user account is not active")

	// ErrWalletNotFound occurs on read-only queries against a wallet that was
	// never created. The mutation path creates wallets lazily instead.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance occurs when a debit exceeds the wallet balance.
	// The wallet and ledger are left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateIdempotencyKey is the storage-level uniqueness backstop: a
	// concurrent request carrying the same key already appended its entry.
	// The engine resolves it by re-reading the idempotency record.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrSerializationFailure indicates the result snapshot could not be
	// encoded or decoded for the idempotency record. A mutation that already
	// committed stands; only the replay record is affected.
	ErrSerializationFailure = errors.New("result serialization failed")

	// ErrConcurrentModification is the defensive version-counter backstop,
	// largely superseded by the exclusive wallet lock. Callers may retry.
	ErrConcurrentModification = errors.New("wallet concurrently modified")
)
