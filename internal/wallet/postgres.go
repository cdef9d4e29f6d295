package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const walletSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    id         BIGSERIAL PRIMARY KEY,
    owner_id   UUID NOT NULL,
    asset_type TEXT NOT NULL,
    balance    NUMERIC(20,4) NOT NULL DEFAULT 0,
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (owner_id, asset_type)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id              BIGSERIAL PRIMARY KEY,
    wallet_id       BIGINT NOT NULL REFERENCES wallets (id),
    kind            TEXT NOT NULL,
    amount          NUMERIC(20,4) NOT NULL,
    balance_after   NUMERIC(20,4) NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    reference_id    TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL UNIQUE,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_wallet_created ON ledger_entries (wallet_id, created_at DESC);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    key             TEXT NOT NULL,
    owner_id        UUID NOT NULL,
    ledger_entry_id BIGINT NOT NULL REFERENCES ledger_entries (id),
    response_data   TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (key, owner_id)
)`

// PostgresStore persists wallets, ledger entries and idempotency records in
// PostgreSQL. Mutations run in a single transaction holding a row-level
// wallet lock, so all writes of one mutation commit or roll back together.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the wallet tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, walletSchema)
	return err
}

// FindWallet is the lock-free read used by the query paths.
func (s *PostgresStore) FindWallet(ctx context.Context, ownerID string, asset AssetType) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, asset_type, balance::text, version, created_at, updated_at
        FROM wallets WHERE owner_id = $1 AND asset_type = $2`, ownerID, string(asset))
	return scanWallet(row)
}

// EntriesByWallet returns at most limit entries, newest first.
func (s *PostgresStore) EntriesByWallet(ctx context.Context, walletID int64, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, kind, amount::text, balance_after::text,
        description, reference_id, idempotency_key, created_at
        FROM ledger_entries WHERE wallet_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesByWalletInRange returns entries inside the inclusive window, newest first.
func (s *PostgresStore) EntriesByWalletInRange(ctx context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, kind, amount::text, balance_after::text,
        description, reference_id, idempotency_key, created_at
        FROM ledger_entries WHERE wallet_id = $1 AND created_at BETWEEN $2 AND $3
        ORDER BY created_at DESC, id DESC`, walletID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntryByIdempotencyKey finds the ledger entry appended under key.
func (s *PostgresStore) EntryByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT id, wallet_id, kind, amount::text, balance_after::text,
        description, reference_id, idempotency_key, created_at
        FROM ledger_entries WHERE idempotency_key = $1`, key)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// LookupIdempotency returns the stored record for (key, owner) if any.
func (s *PostgresStore) LookupIdempotency(ctx context.Context, key, ownerID string) (IdempotencyRecord, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT key, owner_id, ledger_entry_id, response_data, created_at, expires_at
        FROM idempotency_keys WHERE key = $1 AND owner_id = $2`, key, ownerID)
	var (
		rec      IdempotencyRecord
		response string
	)
	err := row.Scan(&rec.Key, &rec.OwnerID, &rec.LedgerEntryID, &response, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, err
	}
	rec.Result = []byte(response)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, true, nil
}

// PurgeExpiredIdempotency deletes records whose validity window passed.
func (s *PostgresStore) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// Mutate runs fn inside one transaction; row locks taken by LockWallet are
// held until commit or rollback.
func (s *PostgresStore) Mutate(ctx context.Context, fn func(tx MutationTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgMutationTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type pgMutationTx struct {
	tx pgx.Tx
}

// LockWallet acquires the exclusive row lock for (owner, asset), creating a
// zero-balance wallet first if none exists. The insert uses ON CONFLICT DO
// NOTHING so concurrent first-time callers converge on a single row; the
// re-select then blocks on whichever transaction holds the lock.
func (t *pgMutationTx) LockWallet(ctx context.Context, ownerID string, asset AssetType) (Wallet, error) {
	const lockQuery = `SELECT id, owner_id, asset_type, balance::text, version, created_at, updated_at
        FROM wallets WHERE owner_id = $1 AND asset_type = $2 FOR UPDATE`

	w, err := scanWallet(t.tx.QueryRow(ctx, lockQuery, ownerID, string(asset)))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, err
	}

	now := time.Now().UTC()
	if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (owner_id, asset_type, balance, version, created_at, updated_at)
        VALUES ($1, $2, 0, 1, $3, $3) ON CONFLICT (owner_id, asset_type) DO NOTHING`,
		ownerID, string(asset), now); err != nil {
		return Wallet{}, err
	}

	w, err = scanWallet(t.tx.QueryRow(ctx, lockQuery, ownerID, string(asset)))
	if err != nil {
		return Wallet{}, fmt.Errorf("lock wallet after create: %w", err)
	}
	return w, nil
}

// SaveWallet persists the balance, bumping the version counter. Zero rows
// affected means the version moved underneath us despite the row lock.
func (t *pgMutationTx) SaveWallet(ctx context.Context, w Wallet) (Wallet, error) {
	now := time.Now().UTC()
	cmd, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2
        WHERE id = $3 AND version = $4`, w.Balance.String(), now, w.ID, w.Version)
	if err != nil {
		return Wallet{}, err
	}
	if cmd.RowsAffected() == 0 {
		return Wallet{}, fmt.Errorf("%w: wallet %d version %d", ErrConcurrentModification, w.ID, w.Version)
	}
	w.Version++
	w.UpdatedAt = now
	return w, nil
}

// AppendEntry stores the entry immutably, assigning identity and timestamp.
func (t *pgMutationTx) AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_entries
        (wallet_id, kind, amount, balance_after, description, reference_id, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.WalletID, string(e.Kind), e.Amount.String(), e.BalanceAfter.String(),
		e.Description, e.ReferenceID, e.IdempotencyKey, now).Scan(&e.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return LedgerEntry{}, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, e.IdempotencyKey)
		}
		return LedgerEntry{}, err
	}
	e.CreatedAt = now
	return e, nil
}

// StoreIdempotency inserts the record; a still-valid record for the same
// (key, owner) is left untouched, an expired one is superseded.
func (t *pgMutationTx) StoreIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO idempotency_keys
        (key, owner_id, ledger_entry_id, response_data, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (key, owner_id) DO UPDATE
        SET ledger_entry_id = EXCLUDED.ledger_entry_id,
            response_data   = EXCLUDED.response_data,
            created_at      = EXCLUDED.created_at,
            expires_at      = EXCLUDED.expires_at
        WHERE idempotency_keys.expires_at <= EXCLUDED.created_at`,
		rec.Key, rec.OwnerID, rec.LedgerEntryID, string(rec.Result),
		rec.CreatedAt.UTC(), rec.ExpiresAt.UTC())
	return err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		asset   string
		balance string
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &asset, &balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("%w: %w", ErrWalletNotFound, err)
		}
		return Wallet{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	w.AssetType = AssetType(asset)
	w.Balance = parsed
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanEntry(row pgx.Row) (LedgerEntry, error) {
	var (
		e            LedgerEntry
		kind         string
		amount       string
		balanceAfter string
	)
	if err := row.Scan(&e.ID, &e.WalletID, &kind, &amount, &balanceAfter,
		&e.Description, &e.ReferenceID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
		return LedgerEntry{}, err
	}
	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("parse amount: %w", err)
	}
	parsedBalance, err := decimal.NewFromString(balanceAfter)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("parse balance_after: %w", err)
	}
	e.Kind = EntryKind(kind)
	e.Amount = parsedAmount
	e.BalanceAfter = parsedBalance
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
