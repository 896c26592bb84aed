// Package alerting 把需要告警的错误投递到各通知渠道。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"OpenMCP-Intent/internal/config"
	xerrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Wallet     string            `json:"wallet,omitempty"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Utterance  string            `json:"utterance,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventFromError 根据错误构造告警事件。
func EventFromError(err error, wallet, endpoint string) Event {
	code, _, msg := xerrors.Classify(err)
	event := Event{
		Code:       code,
		Message:    msg,
		Severity:   xerrors.SeverityOf(err),
		Wallet:     wallet,
		Endpoint:   endpoint,
		OccurredAt: time.Now().UTC(),
	}
	if appErr, ok := xerrors.From(err); ok {
		event.Metadata = appErr.Metadata()
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// FromConfig 总是包含日志渠道，配置了 webhook 时追加 webhook 渠道。
func FromConfig(cfg config.AlertingConfig) *FanoutDispatcher {
	notifiers := []Notifier{&LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL, nil))
	}
	return NewFanout(notifiers...)
}

// Channels 返回已注册的渠道，按名称排序。
func (d *FanoutDispatcher) Channels() []Channel {
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写一条 error 级别日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := n.Logger
	if l == nil {
		l = logger.Named("alerting")
	}
	l.ErrorContext(ctx, "触发告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("wallet", event.Wallet),
		slog.String("endpoint", event.Endpoint),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier 以 JSON 把事件 POST 到指定地址。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器，client 为空时使用 5 秒超时的默认客户端。
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookNotifier{URL: url, Client: client}
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送事件。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("告警 webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}
