package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a cache-aside layer over the hot read paths (balance and
// withdrawable lookups). Redis being down degrades reads to the ledger,
// never to an error.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache for one ledger's keyspace.
func NewCache(rdb *redis.Client, ledger string, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = 5 * time.Second
	}
	return &Cache{rdb: rdb, prefix: "paysplit:" + ledger + ":", ttl: ttl}
}

func (c *Cache) key(kind, account string) string {
	return c.prefix + kind + ":" + account
}

// GetUint64 returns a cached value and whether it was present.
func (c *Cache) GetUint64(ctx context.Context, kind, account string) (uint64, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	raw, err := c.rdb.Get(ctx, c.key(kind, account)).Result()
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetUint64 stores a value for the configured TTL.
func (c *Cache) SetUint64(ctx context.Context, kind, account string, value uint64) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Set(ctx, c.key(kind, account), fmt.Sprintf("%d", value), c.ttl)
}

// Invalidate drops the cached reads for the given accounts. Called after
// every successful mutation; a deposit shifts what every holder can
// withdraw, so deposits pass no accounts and flush the whole keyspace.
func (c *Cache) Invalidate(ctx context.Context, accounts ...string) {
	if c == nil || c.rdb == nil {
		return
	}

	if len(accounts) == 0 {
		iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			c.rdb.Del(ctx, iter.Val())
		}
		return
	}

	keys := make([]string, 0, len(accounts)*2)
	for _, account := range accounts {
		keys = append(keys, c.key("balance", account), c.key("withdrawable", account))
	}
	c.rdb.Del(ctx, keys...)
}
