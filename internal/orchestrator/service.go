// Package orchestrator 持有目录、会话、执行器等全部可变状态，并对外提供请求管线、目录自省与生命周期管理。
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/events"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/intent"
	"OpenMCP-Intent/internal/llm"
	"OpenMCP-Intent/internal/observability/alerting"
	"OpenMCP-Intent/internal/observability/metrics"
	"OpenMCP-Intent/internal/review"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/internal/vault"
	"OpenMCP-Intent/pkg/logger"
)

// Components 是构建 Service 所需的组件。除 Catalog 外均可为空，空组件使用内存或空实现。
type Components struct {
	Catalog   *catalog.Catalog
	Sessions  *session.Manager
	Gate      *governance.Gate
	Tables    executor.Tables
	Reviews   review.Store
	Vault     *vault.Vault
	Publisher events.Publisher
	Alerts    alerting.Dispatcher
	Metrics   *metrics.Collector
	Reasoner  llm.Client
	Narrator  llm.Narrator
	// Closers 在 Shutdown 时按注册的逆序调用。
	Closers []func() error
}

// Service 是唯一的编排服务对象。
type Service struct {
	catalog   *catalog.Catalog
	resolver  *intent.Resolver
	composer  *flow.Composer
	sessions  *session.Manager
	gate      *governance.Gate
	executor  *executor.Executor
	reviews   *review.Queue
	vault     *vault.Vault
	publisher events.Publisher
	alerts    alerting.Dispatcher
	metrics   *metrics.Collector
	narrator  llm.Narrator
	closers   []func() error

	log   *slog.Logger
	audit *slog.Logger
	now   func() time.Time
	newID func() string
}

// Option 调整 Service 的内部行为，主要用于测试。
type Option func(*Service)

// WithClock 替换时钟。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator 替换请求与事件 ID 生成器。
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New 组装编排服务。
func New(c Components, opts ...Option) (*Service, error) {
	if c.Catalog == nil {
		return nil, errors.New("orchestrator 需要能力目录")
	}
	if c.Sessions == nil {
		c.Sessions = session.NewManager(c.Catalog, session.Config{})
	}
	if c.Gate == nil {
		c.Gate = governance.NewGate(governance.Config{})
	}
	if c.Reviews == nil {
		c.Reviews = review.NewMemoryStore()
	}
	if c.Publisher == nil {
		c.Publisher = events.NopPublisher{}
	}
	if c.Alerts == nil {
		c.Alerts = alerting.NewFanout(&alerting.LogNotifier{})
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Default()
	}
	if c.Narrator == nil {
		c.Narrator = llm.NarratorFor(c.Reasoner)
	}

	s := &Service{
		catalog:   c.Catalog,
		sessions:  c.Sessions,
		gate:      c.Gate,
		reviews:   review.NewQueue(c.Reviews),
		vault:     c.Vault,
		publisher: c.Publisher,
		alerts:    c.Alerts,
		metrics:   c.Metrics,
		narrator:  c.Narrator,
		closers:   c.Closers,
		log:       logger.Named("orchestrator"),
		audit:     logger.Audit(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.resolver = intent.NewResolver()
	composerOpts := []flow.Option{}
	if c.Reasoner != nil {
		composerOpts = append(composerOpts, flow.WithReasoner(c.Reasoner))
	}
	s.composer = flow.NewComposer(s.resolver, composerOpts...)
	s.executor = executor.New(c.Tables, s.gate, executor.WithHolder(s.reviews), executor.WithObserver(s.metrics))
	return s, nil
}

// Build 构建并缓存目录快照。
func (s *Service) Build(ctx context.Context) error {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.log.Info("能力目录已就绪", "endpoints", len(snap.Keys()), "manifests", snap.ManifestCount())
	return nil
}

// Invalidate 丢弃缓存的目录快照，下次读取时重建。
func (s *Service) Invalidate() {
	s.catalog.Invalidate()
}

// Reload 立即重建目录并返回 endpoint 数量。
func (s *Service) Reload(ctx context.Context) (int, error) {
	return ReloadCatalog(s.catalog)(ctx)
}

// ReloadCatalog 返回使目录失效并重建的函数，供管理类 handler 在 Service 创建前绑定。
func ReloadCatalog(cat *catalog.Catalog) func(ctx context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		cat.Invalidate()
		snap, err := cat.Snapshot(ctx)
		if err != nil {
			return 0, err
		}
		return len(snap.Keys()), nil
	}
}

// Shutdown 依次关闭事件发布者与注册的资源，汇总全部错误。
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Sessions 返回会话管理器。
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Metrics 返回指标集合。
func (s *Service) Metrics() *metrics.Collector { return s.metrics }

// Snapshot 返回当前目录快照。
func (s *Service) Snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	return s.catalog.Snapshot(ctx)
}
