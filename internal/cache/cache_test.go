package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheExpiresOnRead(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	value, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("unexpected get: %q %v %v", value, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if c.Len() != 1 {
		t.Fatalf("expired entry should linger until read")
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on read")
	}
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	raw := []byte("abc")
	_ = c.Set(ctx, "k", raw, 0)
	raw[0] = 'x'
	value, _, _ := c.Get(ctx, "k")
	if string(value) != "abc" {
		t.Fatalf("cache must not alias caller slices, got %q", value)
	}
	_ = c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected deleted entry to miss")
	}
}
