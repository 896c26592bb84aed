package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 缓存的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisCache 使用 Redis 字符串键实现缓存，过期交给 Redis 处理。
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache 创建并探活 Redis 缓存。
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient 使用已有客户端构造缓存。
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get 读取缓存。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Redis 读取缓存失败: %w", err)
	}
	return value, true, nil
}

// Set 写入缓存。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入缓存失败: %w", err)
	}
	return nil
}

// Delete 删除缓存。
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("Redis 删除缓存失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
