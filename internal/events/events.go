// Package events 发布流程执行事件，供下游系统订阅。发布失败只记录日志，不影响请求结果。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"OpenMCP-Intent/internal/config"
	apperrors "OpenMCP-Intent/internal/errors"
)

// StepEvent 是单步执行的摘要。
type StepEvent struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
}

// Event 描述一次已执行的流程。
type Event struct {
	ID         string      `json:"id"`
	Wallet     string      `json:"wallet"`
	Utterance  string      `json:"utterance"`
	Steps      []StepEvent `json:"steps"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Encode 将事件编码为 JSON。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 使用 channel 缓存事件，主要用于测试。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建内存发布者。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 实现 Publisher。缓冲区已满时返回错误而不是阻塞请求。
func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.New(apperrors.CodeQueueFailure, "事件队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- event:
		return nil
	default:
		return apperrors.New(apperrors.CodeQueueFailure, "事件队列已满")
	}
}

// Events 返回事件 channel。
func (m *MemoryPublisher) Events() <-chan Event {
	return m.ch
}

// Close 实现 Publisher。
func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.ch)
		m.closed = true
	}
	return nil
}

// New 根据配置创建发布者。
func New(cfg config.EventsConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryPublisher(256), nil
	case "none":
		return NopPublisher{}, nil
	case "redis":
		return NewRedisPublisher(RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return NewRabbitMQPublisher(RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}
