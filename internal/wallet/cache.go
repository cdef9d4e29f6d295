package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceCachePrefix = "wallet:balance:"

// BalanceCache is a Redis-backed read-side cache for balance queries. It is
// fail-open: cache errors degrade to storage reads, never to request
// failures. A nil *BalanceCache is a no-op, so the engine works without
// Redis.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache builds a balance cache with the given entry TTL.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// Get returns the cached view for the pair, if present.
func (c *BalanceCache) Get(ctx context.Context, ownerID string, asset AssetType) (BalanceView, bool) {
	if c == nil || c.client == nil {
		return BalanceView{}, false
	}
	payload, err := c.client.Get(ctx, balanceKey(ownerID, asset)).Result()
	if err != nil {
		return BalanceView{}, false
	}
	var view BalanceView
	if err := json.Unmarshal([]byte(payload), &view); err != nil {
		return BalanceView{}, false
	}
	return view, true
}

// Set caches the view. Best effort.
func (c *BalanceCache) Set(ctx context.Context, view BalanceView) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	c.client.Set(ctx, balanceKey(view.OwnerID, view.AssetType), payload, c.ttl)
}

// Invalidate drops the cached view after a mutation commits.
func (c *BalanceCache) Invalidate(ctx context.Context, ownerID string, asset AssetType) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, balanceKey(ownerID, asset))
}

func balanceKey(ownerID string, asset AssetType) string {
	return fmt.Sprintf("%s%s:%s", balanceCachePrefix, ownerID, asset)
}
