package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "OpenMCP-Intent/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// RabbitMQPublisher 使用 RabbitMQ 默认交换机投递事件。
type RabbitMQPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mode  uint8
}

// NewRabbitMQPublisher 创建 RabbitMQ 发布者并声明队列。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "openmcp.flow-events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	mode := amqp.Transient
	if cfg.Durable {
		mode = amqp.Persistent
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, queue: queue, mode: mode}, nil
}

// Publish 将事件投递到 RabbitMQ。amqp channel 不是并发安全的，发布时加锁。
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布者未初始化")
	}
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: p.mode,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeQueueFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
