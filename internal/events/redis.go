package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "OpenMCP-Intent/internal/errors"
)

// RedisConfig 描述 Redis 事件队列的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Queue    string
}

// RedisPublisher 使用 Redis list 投递事件，消费者通过 BRPOP 读取。
type RedisPublisher struct {
	client redis.UniversalClient
	queue  string
}

// NewRedisPublisher 创建 Redis 发布者。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherWithClient(client, cfg.Queue), nil
}

// NewRedisPublisherWithClient 使用已有客户端创建发布者。
func NewRedisPublisherWithClient(client redis.UniversalClient, queue string) *RedisPublisher {
	if queue == "" {
		queue = "openmcp:flow-events"
	}
	return &RedisPublisher{client: client, queue: queue}
}

// Publish 将事件 LPUSH 到队列。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, payload).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeQueueFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
