package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetType is the currency/unit a wallet denominates.
type AssetType string

const (
	AssetCoin  AssetType = "COIN"
	AssetPoint AssetType = "POINT"
)

// ParseAssetType validates a caller-supplied asset type string.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetCoin:
		return AssetCoin, nil
	case AssetPoint:
		return AssetPoint, nil
	default:
		return "", fmt.Errorf("unknown asset type %q", s)
	}
}

// EntryKind distinguishes balance-increasing from balance-decreasing ledger entries.
type EntryKind string

const (
	KindCredit EntryKind = "CREDIT"
	KindDebit  EntryKind = "DEBIT"
)

// Wallet is the derived per-(owner, asset) balance record. It is created
// lazily on first mutation and only ever mutated inside the engine's locked
// critical section.
type Wallet struct {
	ID        int64
	OwnerID   string
	AssetType AssetType
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry is an immutable, append-only record of one balance-affecting
// event. BalanceAfter snapshots the wallet balance immediately after the
// entry was applied.
type LedgerEntry struct {
	ID             int64
	WalletID       int64
	Kind           EntryKind
	Amount         decimal.Decimal
	BalanceAfter   decimal.Decimal
	Description    string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// IdempotencyRecord maps a (key, owner) pair to the result a mutation already
// produced. Replays inside the validity window return Result verbatim.
type IdempotencyRecord struct {
	Key           string
	OwnerID       string
	LedgerEntryID int64
	Result        []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the record's validity window has passed.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
