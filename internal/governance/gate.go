// Package governance 对每个流程步骤做两项独立判断：授权检查与人工审核判定。
package governance

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/pkg/logger"
)

// Outcome 是审核判定结果。
type Outcome string

const (
	Allow  Outcome = "allow"
	Review Outcome = "review"
)

// Decision 是审核判定及其原因。
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Config 描述审核规则。
type Config struct {
	HighRiskScopes []string
	// PaymentEndpoint 是按金额审核的支付 endpoint。
	PaymentEndpoint string
	// PaymentThreshold 为 0 时关闭金额规则。
	PaymentThreshold float64
}

// Gate 是无状态的治理闸门。
type Gate struct {
	highRisk  map[string]struct{}
	payment   string
	threshold float64
	now       func() time.Time
	audit     *slog.Logger
}

// Option 配置闸门。
type Option func(*Gate)

// WithClock 替换时钟。
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate 创建治理闸门。
func NewGate(cfg Config, opts ...Option) *Gate {
	g := &Gate{
		highRisk:  make(map[string]struct{}, len(cfg.HighRiskScopes)),
		payment:   strings.TrimSpace(cfg.PaymentEndpoint),
		threshold: cfg.PaymentThreshold,
		now:       time.Now,
		audit:     logger.Audit(),
	}
	for _, scope := range cfg.HighRiskScopes {
		if s := strings.ToLower(strings.TrimSpace(scope)); s != "" {
			g.highRisk[s] = struct{}{}
		}
	}
	if g.payment == "" {
		g.payment = "payments.send"
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckConsent 检查会话是否持有步骤所需的全部授权范围且未过期。目录中不存在的 endpoint 一律拒绝。
func (g *Gate) CheckConsent(s session.Session, step flow.Step, snap *catalog.Snapshot) error {
	ep, ok := snap.Lookup(step.Endpoint)
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("endpoint %s 不存在", step.Endpoint),
			apperrors.WithMetadata("endpoint", step.Endpoint))
	}
	if s.Expired(g.now()) {
		g.audit.Info("授权检查拒绝", "wallet", s.Wallet, "endpoint", ep.Key, "reason", "expired")
		return &apperrors.ConsentError{Endpoint: ep.Key, Expired: true}
	}
	var missing []string
	for _, scope := range ep.Scopes {
		if !s.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		g.audit.Info("授权检查拒绝", "wallet", s.Wallet, "endpoint", ep.Key, "scopes", missing)
		return &apperrors.ConsentError{Endpoint: ep.Key, Missing: missing}
	}
	return nil
}

// CheckRole 检查会话角色是否满足 endpoint 的角色策略。
func (g *Gate) CheckRole(s session.Session, step flow.Step, snap *catalog.Snapshot) error {
	ep, ok := snap.Lookup(step.Endpoint)
	if !ok {
		return nil
	}
	if ep.Policy.AllowsRole(s.Roles...) {
		return nil
	}
	g.audit.Info("角色检查拒绝", "wallet", s.Wallet, "endpoint", ep.Key, "role", s.Role())
	return &apperrors.RoleError{Endpoint: ep.Key, Role: s.Role(), Allowed: ep.Policy.AllowedRoles}
}

// Authorize 依次执行授权检查与角色检查。
func (g *Gate) Authorize(s session.Session, step flow.Step, snap *catalog.Snapshot) error {
	if err := g.CheckConsent(s, step, snap); err != nil {
		return err
	}
	return g.CheckRole(s, step, snap)
}

// Evaluate 判断步骤是否需要人工审核。目录中不存在的 endpoint 在此处放行，授权检查仍会拒绝它们。
func (g *Gate) Evaluate(step flow.Step, snap *catalog.Snapshot) Decision {
	ep, ok := snap.Lookup(step.Endpoint)
	if !ok {
		return Decision{Outcome: Allow}
	}
	for _, scope := range ep.Scopes {
		if _, risky := g.highRisk[strings.ToLower(scope)]; risky {
			return Decision{Outcome: Review, Reason: fmt.Sprintf("scope %s is high risk", scope)}
		}
	}
	if ep.Key == g.payment && g.threshold > 0 {
		if amount, ok := Amount(step.Args["amount"]); ok && amount > g.threshold {
			return Decision{Outcome: Review, Reason: fmt.Sprintf("amount %.2f exceeds review threshold %.2f", amount, g.threshold)}
		}
	}
	if ep.Policy.ReviewRequired {
		return Decision{Outcome: Review, Reason: "endpoint policy requires review"}
	}
	return Decision{Outcome: Allow}
}

// Amount 将金额参数转换为 float64，字符串可带 "$" 前缀。
func Amount(v any) (float64, bool) {
	if text, ok := v.(string); ok {
		v = strings.TrimPrefix(strings.TrimSpace(text), "$")
	}
	return catalog.Number(v)
}
