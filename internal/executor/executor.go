// Package executor 校验参数、按层级路由到 handler 并对失败分类。它是唯一抛出类型化错误的层。
package executor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/pkg/logger"
)

// Holder 接收被审核闸门拦下的步骤，返回审核单 ID。
type Holder interface {
	Hold(ctx context.Context, sess session.Session, step flow.Step, decision governance.Decision) (string, error)
}

// Observer 观察每一步的执行结果，通常用于指标。
type Observer interface {
	ObserveStep(endpoint string, status string)
}

// Outcome 是流程中单步的结果：Result 与 Err 二者之一非空。
type Outcome struct {
	Step     flow.Step            `json:"step"`
	Decision *governance.Decision `json:"decision,omitempty"`
	Result   *Result              `json:"result,omitempty"`
	Err      error                `json:"-"`
}

// Executor 在启动时持有不可变的 handler 表。
type Executor struct {
	handlers registry
	gate     *governance.Gate
	holder   Holder
	observer Observer
	audit    *slog.Logger
}

// Option 配置执行器。
type Option func(*Executor)

// WithHolder 设置审核单接收者。
func WithHolder(h Holder) Option {
	return func(e *Executor) { e.holder = h }
}

// WithObserver 设置执行观察者。
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// New 创建执行器。
func New(tables Tables, gate *governance.Gate, opts ...Option) *Executor {
	e := &Executor{
		handlers: newRegistry(tables),
		gate:     gate,
		audit:    logger.Audit(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tiers 返回每个已注册 endpoint 的层级。
func (e *Executor) Tiers() map[string]Tier {
	return e.handlers.keys()
}

// Preflight 在任何 handler 执行前完成授权、角色与参数校验。
func (e *Executor) Preflight(sess session.Session, step flow.Step, snap *catalog.Snapshot) (catalog.Endpoint, error) {
	ep, ok := snap.Lookup(step.Endpoint)
	if !ok {
		return catalog.Endpoint{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("endpoint %s 不存在", step.Endpoint),
			apperrors.WithMetadata("endpoint", step.Endpoint))
	}
	if e.gate != nil {
		if err := e.gate.Authorize(sess, step, snap); err != nil {
			return ep, err
		}
	}
	if invalid := Validate(ep.Args, step.Args); len(invalid) > 0 {
		return ep, &apperrors.ValidationError{Endpoint: ep.Key, Invalid: invalid}
	}
	return ep, nil
}

// Execute 对单步执行预检与分发，不经过审核闸门。
func (e *Executor) Execute(ctx context.Context, sess session.Session, step flow.Step, snap *catalog.Snapshot) (Result, error) {
	ep, err := e.Preflight(sess, step, snap)
	if err != nil {
		e.observe(step.Endpoint, StatusFailed)
		return Result{}, err
	}
	return e.Dispatch(ctx, sess, ep, step.Args)
}

// Dispatch 按层级路由到 handler。没有 handler 时返回 not_implemented 状态而非错误。
func (e *Executor) Dispatch(ctx context.Context, sess session.Session, ep catalog.Endpoint, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	call := Call{Session: sess, Endpoint: ep, Args: args}
	handler, ok := e.handlers.route(ep.Key)
	if !ok {
		e.observe(ep.Key, StatusNotImplemented)
		return Result{
			Endpoint: ep.Key,
			Status:   StatusNotImplemented,
			Message:  fmt.Sprintf("%s is not implemented yet", ep.Key),
		}, nil
	}

	var (
		result Result
		err    error
	)
	switch h := handler.(type) {
	case DirectHandler:
		result, err = h(ctx, call)
	case StorageHandler:
		result, err = h(ctx, call)
	case AuthRequiredHandler:
		var auth Authorization
		auth, err = h(ctx, call)
		if err == nil {
			result = Result{
				Status:        StatusAuthorizationRequired,
				Message:       fmt.Sprintf("%s requires %s", ep.Key, auth.Detail),
				Authorization: &auth,
			}
		}
	}
	if err != nil {
		e.observe(ep.Key, StatusFailed)
		return Result{}, wrapExecution(ep.Key, err)
	}

	result.Endpoint = ep.Key
	if result.Status == "" {
		result.Status = StatusOK
	}
	e.observe(ep.Key, result.Status)
	e.audit.Info("步骤已执行", "wallet", sess.Wallet, "endpoint", ep.Key, "tier", handler.Tier(), "status", result.Status, "scopes", ep.Scopes)
	return result, nil
}

// ExecuteFlow 依次执行各步骤。每步独立预检、审核与执行，失败不会回滚之前的步骤。
func (e *Executor) ExecuteFlow(ctx context.Context, sess session.Session, steps []flow.Step, snap *catalog.Snapshot) []Outcome {
	outcomes := make([]Outcome, 0, len(steps))
	for _, step := range steps {
		outcome := Outcome{Step: step}
		ep, err := e.Preflight(sess, step, snap)
		if err != nil {
			e.observe(step.Endpoint, StatusFailed)
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}

		if e.gate != nil {
			decision := e.gate.Evaluate(step, snap)
			outcome.Decision = &decision
			if decision.Outcome == governance.Review {
				outcome.Result, outcome.Err = e.hold(ctx, sess, step, decision)
				outcomes = append(outcomes, outcome)
				continue
			}
		}

		result, err := e.Dispatch(ctx, sess, ep, step.Args)
		if err != nil {
			outcome.Err = err
		} else {
			outcome.Result = &result
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Executor) hold(ctx context.Context, sess session.Session, step flow.Step, decision governance.Decision) (*Result, error) {
	result := &Result{
		Endpoint: step.Endpoint,
		Status:   StatusPendingReview,
		Message:  fmt.Sprintf("%s is waiting for manual review: %s", step.Endpoint, decision.Reason),
	}
	if e.holder != nil {
		id, err := e.holder.Hold(ctx, sess, step, decision)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存审核单失败")
		}
		result.TicketID = id
	}
	e.observe(step.Endpoint, StatusPendingReview)
	e.audit.Info("步骤等待审核", "wallet", sess.Wallet, "endpoint", step.Endpoint, "reason", decision.Reason, "ticket", result.TicketID)
	return result, nil
}

func (e *Executor) observe(endpoint string, status Status) {
	if e.observer != nil {
		e.observer.ObserveStep(endpoint, string(status))
	}
}

// handler 自行判定的参数错误原样返回，其余错误包装为 ExecutionError。
func wrapExecution(endpoint string, err error) error {
	var (
		execErr    *apperrors.ExecutionError
		validation *apperrors.ValidationError
	)
	if stdErrors.As(err, &execErr) || stdErrors.As(err, &validation) {
		return err
	}
	return apperrors.NewExecutionError(endpoint, err)
}
