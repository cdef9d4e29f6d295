package wallet

// SeedIdempotency is a test helper that plants a committed idempotency record
// when using the in-memory store.
func SeedIdempotency(s Store, rec IdempotencyRecord) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.idem[idemKey{rec.Key, rec.OwnerID}] = rec
	}
}
