package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/timloh-professional/origin/internal/model"
)

type (
	// EntryCache holds log entries for wallets with no live stream open,
	// drained in order when the wallet next subscribes.
	EntryCache interface {
		Push(ctx context.Context, wallet string, entry *model.LogEntry) error
		Drain(ctx context.Context, wallet string) ([]*model.LogEntry, error)
	}

	// RedisCache backs the pending queue with a Redis list per wallet.
	RedisCache struct {
		rdb *redis.Client
	}

	// MemoryCache is the in-process EntryCache; the default for
	// development and the integration tests.
	MemoryCache struct {
		mu      sync.Mutex
		pending map[string][]*model.LogEntry
	}
)

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) key(wallet string) string {
	return fmt.Sprintf("pending: %s", wallet)
}

func (c *RedisCache) Push(ctx context.Context, wallet string, entry *model.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, c.key(wallet), data).Err()
}

func (c *RedisCache) Drain(ctx context.Context, wallet string) ([]*model.LogEntry, error) {
	vals, err := c.rdb.LRange(ctx, c.key(wallet), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	c.rdb.Del(ctx, c.key(wallet))

	var res []*model.LogEntry
	for _, v := range vals {
		var e model.LogEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, nil
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{pending: make(map[string][]*model.LogEntry)}
}

func (c *MemoryCache) Push(_ context.Context, wallet string, entry *model.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	c.pending[wallet] = append(c.pending[wallet], &cp)
	return nil
}

func (c *MemoryCache) Drain(_ context.Context, wallet string) ([]*model.LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.pending[wallet]
	delete(c.pending, wallet)
	return res, nil
}
