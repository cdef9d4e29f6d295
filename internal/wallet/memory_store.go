package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type walletKey struct {
	ownerID string
	asset   AssetType
}

type idemKey struct {
	key     string
	ownerID string
}

// MemoryStore is a concurrency-safe in-memory Store for tests and development
// mode. Each (owner, asset) pair is guarded by its own mutex, mirroring the
// row-level lock of the Postgres store; staged writes become visible only
// when the mutation commits.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[walletKey]*sync.Mutex
	wallets map[walletKey]Wallet
	entries map[int64][]LedgerEntry // keyed by wallet ID, append order
	keys    map[string]struct{}     // ledger idempotency key uniqueness
	idem    map[idemKey]IdempotencyRecord

	nextWalletID int64
	nextEntryID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   make(map[walletKey]*sync.Mutex),
		wallets: make(map[walletKey]Wallet),
		entries: make(map[int64][]LedgerEntry),
		keys:    make(map[string]struct{}),
		idem:    make(map[idemKey]IdempotencyRecord),
	}
}

// FindWallet returns the committed wallet state for the pair.
func (s *MemoryStore) FindWallet(_ context.Context, ownerID string, asset AssetType) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletKey{ownerID, asset}]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: owner %s asset %s", ErrWalletNotFound, ownerID, asset)
	}
	return w, nil
}

// EntriesByWallet returns at most limit committed entries, newest first.
func (s *MemoryStore) EntriesByWallet(_ context.Context, walletID int64, limit int) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.newestFirst(walletID)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// EntriesByWalletInRange returns committed entries inside the inclusive
// window, newest first.
func (s *MemoryStore) EntriesByWalletInRange(_ context.Context, walletID int64, from, to time.Time) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filtered []LedgerEntry
	for _, entry := range s.newestFirst(walletID) {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered, nil
}

// EntryByIdempotencyKey scans committed entries for the key.
func (s *MemoryStore) EntryByIdempotencyKey(_ context.Context, key string) (LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.entries {
		for _, entry := range entries {
			if entry.IdempotencyKey == key {
				return entry, true, nil
			}
		}
	}
	return LedgerEntry{}, false, nil
}

// LookupIdempotency returns the committed record for (key, owner) if any.
func (s *MemoryStore) LookupIdempotency(_ context.Context, key, ownerID string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idem[idemKey{key, ownerID}]
	return rec, ok, nil
}

// PurgeExpiredIdempotency drops expired records.
func (s *MemoryStore) PurgeExpiredIdempotency(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for k, rec := range s.idem {
		if rec.Expired(now) {
			delete(s.idem, k)
			purged++
		}
	}
	return purged, nil
}

// Mutate acquires nothing up front; the per-key lock is taken when fn calls
// LockWallet and released after commit or rollback.
func (s *MemoryStore) Mutate(_ context.Context, fn func(tx MutationTx) error) error {
	tx := &memMutationTx{store: s}
	err := fn(tx)
	if err == nil {
		err = s.commit(tx)
	} else {
		s.rollback(tx)
	}
	if tx.lock != nil {
		tx.lock.Unlock()
	}
	return err
}

func (s *MemoryStore) commit(tx *memMutationTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.wallet != nil && (tx.created || tx.saved) {
		s.wallets[tx.key] = *tx.wallet
	}
	if tx.entry != nil {
		s.entries[tx.entry.WalletID] = append(s.entries[tx.entry.WalletID], *tx.entry)
	}
	if tx.idem != nil {
		k := idemKey{tx.idem.Key, tx.idem.OwnerID}
		if existing, ok := s.idem[k]; !ok || existing.Expired(tx.idem.CreatedAt) {
			s.idem[k] = *tx.idem
		}
	}
	return nil
}

func (s *MemoryStore) rollback(tx *memMutationTx) {
	if tx.reservedKey == "" {
		return
	}
	s.mu.Lock()
	delete(s.keys, tx.reservedKey)
	s.mu.Unlock()
}

func (s *MemoryStore) newestFirst(walletID int64) []LedgerEntry {
	entries := make([]LedgerEntry, len(s.entries[walletID]))
	copy(entries, s.entries[walletID])
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

type memMutationTx struct {
	store *MemoryStore
	key   walletKey
	lock  *sync.Mutex

	wallet      *Wallet
	created     bool
	saved       bool
	entry       *LedgerEntry
	reservedKey string
	idem        *IdempotencyRecord
}

func (t *memMutationTx) LockWallet(_ context.Context, ownerID string, asset AssetType) (Wallet, error) {
	t.key = walletKey{ownerID, asset}

	t.store.mu.Lock()
	lock, ok := t.store.locks[t.key]
	if !ok {
		lock = &sync.Mutex{}
		t.store.locks[t.key] = lock
	}
	t.store.mu.Unlock()

	// Blocks until the previous holder commits or rolls back.
	lock.Lock()
	t.lock = lock

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if w, ok := t.store.wallets[t.key]; ok {
		t.wallet = &w
		return w, nil
	}

	t.store.nextWalletID++
	now := time.Now().UTC()
	w := Wallet{
		ID:        t.store.nextWalletID,
		OwnerID:   ownerID,
		AssetType: asset,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.wallet = &w
	t.created = true
	return w, nil
}

func (t *memMutationTx) SaveWallet(_ context.Context, w Wallet) (Wallet, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if committed, ok := t.store.wallets[t.key]; ok && committed.Version != w.Version {
		return Wallet{}, fmt.Errorf("%w: wallet %d version %d", ErrConcurrentModification, w.ID, w.Version)
	}

	w.Version++
	w.UpdatedAt = time.Now().UTC()
	t.wallet = &w
	t.saved = true
	return w, nil
}

func (t *memMutationTx) AppendEntry(_ context.Context, e LedgerEntry) (LedgerEntry, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, exists := t.store.keys[e.IdempotencyKey]; exists {
		return LedgerEntry{}, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, e.IdempotencyKey)
	}
	t.store.keys[e.IdempotencyKey] = struct{}{}
	t.reservedKey = e.IdempotencyKey

	t.store.nextEntryID++
	e.ID = t.store.nextEntryID
	e.CreatedAt = time.Now().UTC()
	t.entry = &e
	return e, nil
}

func (t *memMutationTx) StoreIdempotency(_ context.Context, rec IdempotencyRecord) error {
	t.idem = &rec
	return nil
}
