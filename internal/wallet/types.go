package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHistoryLimit caps GetHistory results when no explicit range or limit
// is supplied.
const DefaultHistoryLimit = 100

// OperationRequest carries the caller-supplied data of a mutating operation.
type OperationRequest struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	AssetType      AssetType
	Description    string
	ReferenceID    string
}

// OperationResult is the outcome of a committed mutation. It is also the
// snapshot stored under the idempotency key, so replays return it unchanged.
type OperationResult struct {
	TransactionID int64           `json:"transaction_id"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	AssetType     AssetType       `json:"asset_type"`
	Description   string          `json:"description,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Message       string          `json:"message"`
}

// BalanceView is the read-only balance projection for one (owner, asset) pair.
type BalanceView struct {
	OwnerID   string          `json:"owner_id"`
	AssetType AssetType       `json:"asset_type"`
	Balance   decimal.Decimal `json:"balance"`
}

// HistoryEntry is one ledger entry as exposed by GetHistory.
type HistoryEntry struct {
	ID           int64           `json:"id"`
	Kind         EntryKind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description,omitempty"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// HistoryView bundles a wallet's current balance with its newest-first entries.
type HistoryView struct {
	AssetType      AssetType       `json:"asset_type"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Transactions   []HistoryEntry  `json:"transactions"`
}
