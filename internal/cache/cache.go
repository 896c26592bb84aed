// Package cache 提供按用途划分的 TTL 缓存：进程内的读时过期 map 与 Redis 实现。
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 是查询结果与注册表拉取结果共用的缓存接口。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache 是读时过期的进程内缓存，不做后台清理。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption 配置内存缓存。
type MemoryOption func(*MemoryCache)

// WithClock 替换时钟，便于测试。
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache 创建内存缓存。
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 返回缓存值；已过期的条目在读取时被删除。
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set 写入缓存，ttl <= 0 表示永不过期。
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete 删除缓存条目。
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len 返回当前条目数（包含尚未被读取的过期条目）。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
