package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/pkg/logger"
)

// Runner 执行批准后的步骤。执行前会重新做授权检查。
type Runner interface {
	Execute(ctx context.Context, sess session.Session, step flow.Step, snap *catalog.Snapshot) (executor.Result, error)
}

// Queue 管理审核单的生命周期：pending → approved → executed | failed，或 pending → rejected。
type Queue struct {
	store Store
	newID func() string
	now   func() time.Time
	audit *slog.Logger
}

// Option 配置审核队列。
type Option func(*Queue)

// WithIDGenerator 替换审核单 ID 生成方式。
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// WithClock 替换时钟。
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue 创建审核队列。
func NewQueue(store Store, opts ...Option) *Queue {
	if store == nil {
		store = NewMemoryStore()
	}
	q := &Queue{
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
		audit: logger.Audit(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Hold 实现 executor.Holder，为被拦下的步骤创建审核单。
func (q *Queue) Hold(ctx context.Context, sess session.Session, step flow.Step, decision governance.Decision) (string, error) {
	now := nowUnix(q.now)
	ticket := &Ticket{
		ID:        q.newID(),
		Wallet:    sess.Wallet,
		Endpoint:  step.Endpoint,
		Args:      step.Args,
		Reason:    decision.Reason,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.Create(ctx, ticket); err != nil {
		return "", err
	}
	q.audit.Info("创建审核单", "ticket", ticket.ID, "wallet", ticket.Wallet, "endpoint", ticket.Endpoint, "reason", ticket.Reason)
	return ticket.ID, nil
}

// Get 返回审核单，调用方必须是所属钱包或管理员。
func (q *Queue) Get(ctx context.Context, sess session.Session, id string) (*Ticket, error) {
	ticket, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canReview(sess, ticket) {
		return nil, ErrTicketNotFound
	}
	return ticket, nil
}

// List 列出会话可见的审核单。管理员可见全部。
func (q *Queue) List(ctx context.Context, sess session.Session, status Status, limit int) ([]Ticket, error) {
	filter := Filter{Status: status, Limit: limit}
	if !sess.HasRole("admin") {
		filter.Wallet = sess.Wallet
	}
	return q.store.List(ctx, filter)
}

// Reject 拒绝待审核的步骤。
func (q *Queue) Reject(ctx context.Context, sess session.Session, id, reason string) (*Ticket, error) {
	ticket, err := q.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	ticket.Status = StatusRejected
	ticket.Message = strings.TrimSpace(reason)
	ticket.Reviewer = sess.Wallet
	ticket.UpdatedAt = nowUnix(q.now)
	if err := q.store.Transition(ctx, *ticket, StatusPending); err != nil {
		return nil, err
	}
	q.audit.Info("审核单已拒绝", "ticket", id, "wallet", ticket.Wallet, "endpoint", ticket.Endpoint, "reviewer", sess.Wallet)
	return ticket, nil
}

// Approve 批准并执行步骤。审核人必须是管理员且不是审核单所属钱包。
// 执行使用所属钱包的会话 owner，授权检查在执行时重新进行。
func (q *Queue) Approve(ctx context.Context, sess session.Session, owner session.Session, id string, runner Runner, snap *catalog.Snapshot) (*Ticket, *executor.Result, error) {
	ticket, err := q.Get(ctx, sess, id)
	if err != nil {
		return nil, nil, err
	}
	if !canApprove(sess, ticket) {
		q.audit.Warn("拒绝审批请求", "ticket", id, "wallet", ticket.Wallet, "reviewer", sess.Wallet)
		return nil, nil, apperrors.New(apperrors.CodeRoleDenied, "review tickets must be approved by an admin other than the requester",
			apperrors.WithMetadata("ticket", id))
	}
	if !strings.EqualFold(owner.Wallet, ticket.Wallet) {
		return nil, nil, apperrors.New(apperrors.CodeInvalidArgument, "执行会话与审核单钱包不一致")
	}
	ticket.Status = StatusApproved
	ticket.Reviewer = sess.Wallet
	ticket.UpdatedAt = nowUnix(q.now)
	if err := q.store.Transition(ctx, *ticket, StatusPending); err != nil {
		return nil, nil, err
	}
	q.audit.Info("审核单已批准", "ticket", id, "wallet", ticket.Wallet, "endpoint", ticket.Endpoint, "reviewer", sess.Wallet)

	result, runErr := runner.Execute(ctx, owner, flow.Step{Endpoint: ticket.Endpoint, Args: ticket.Args}, snap)
	ticket.UpdatedAt = nowUnix(q.now)
	if runErr != nil {
		code, _, message := apperrors.Classify(runErr)
		ticket.Status = StatusFailed
		ticket.ErrorCode = string(code)
		ticket.Message = message
	} else {
		ticket.Status = StatusExecuted
		ticket.Message = result.Message
	}
	if err := q.store.Transition(ctx, *ticket, StatusApproved); err != nil {
		return nil, nil, fmt.Errorf("更新审核单状态失败: %w", err)
	}
	if runErr != nil {
		return ticket, nil, runErr
	}
	return ticket, &result, nil
}

func canReview(sess session.Session, ticket *Ticket) bool {
	return sess.HasRole("admin") || strings.EqualFold(sess.Wallet, ticket.Wallet)
}

// 自己的审核单只能查看或拒绝，不能批准。
func canApprove(sess session.Session, ticket *Ticket) bool {
	return sess.HasRole("admin") && !strings.EqualFold(sess.Wallet, ticket.Wallet)
}
