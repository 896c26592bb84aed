// Package session 维护钱包绑定的会话：令牌、授权范围与由已连接能力组推导出的能力映射。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/pkg/logger"
)

// SnapshotProvider 提供当前能力目录快照，*catalog.Catalog 满足该接口。
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Config 描述会话生命周期参数。
type Config struct {
	TTL               time.Duration
	AutoConsentScopes []string
	ConsentableScopes []string
}

// Manager 管理全部会话。同一钱包的并发修改以最后写入为准。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*state
	tokens   map[string]string

	catalog     SnapshotProvider
	ttl         time.Duration
	autoConsent []string
	consentable map[string]struct{}

	now      func() time.Time
	newToken func() string
	audit    *slog.Logger
}

// Option 配置会话管理器。
type Option func(*Manager)

// WithClock 替换时钟。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenGenerator 替换令牌生成函数。
func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newToken = gen
		}
	}
}

// WithAuditLogger 指定审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.audit = l
		}
	}
}

// NewManager 创建会话管理器。
func NewManager(provider SnapshotProvider, cfg Config, opts ...Option) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Manager{
		sessions:    make(map[string]*state),
		tokens:      make(map[string]string),
		catalog:     provider,
		ttl:         ttl,
		autoConsent: normalizeList(cfg.AutoConsentScopes),
		consentable: make(map[string]struct{}),
		now:         time.Now,
		newToken:    func() string { return uuid.NewString() },
		audit:       logger.Audit(),
	}
	for _, scope := range normalizeList(cfg.ConsentableScopes) {
		m.consentable[scope] = struct{}{}
	}
	for _, scope := range m.autoConsent {
		m.consentable[scope] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeWallet 校验并小写化钱包标识。0x 开头的标识必须是合法的十六进制地址。
func NormalizeWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if w == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "钱包地址不能为空")
	}
	if strings.HasPrefix(w, "0x") && !common.IsHexAddress(w) {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "钱包地址格式不正确", apperrors.WithMetadata("wallet", w))
	}
	return w, nil
}

// Start 为钱包签发新令牌，旧令牌立即失效，并以自动授权范围初始化会话。
func (m *Manager) Start(ctx context.Context, wallet string, roles []string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return Session{}, err
	}
	roles = normalizeList(roles)
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}

	now := m.now()
	st := &state{
		wallet:       w,
		token:        m.newToken(),
		roles:        roles,
		grants:       make(map[string]struct{}, len(m.autoConsent)),
		capabilities: make(map[string][]string),
		issuedAt:     now,
		expiresAt:    now.Add(m.ttl),
	}
	for _, scope := range m.autoConsent {
		st.grants[scope] = struct{}{}
	}
	for _, app := range snap.Apps() {
		if len(app.Permissions) == 0 {
			continue
		}
		if hasAll(st.grants, app.Permissions) {
			st.connected = append(st.connected, app.ID)
			st.capabilities[app.ID] = unlocked(snap, app.ID, st.grants)
		}
	}

	m.mu.Lock()
	if prev, ok := m.sessions[w]; ok {
		delete(m.tokens, prev.token)
	}
	m.sessions[w] = st
	m.tokens[st.token] = w
	out := st.snapshot()
	m.mu.Unlock()

	m.audit.Info("会话已创建", "wallet", w, "roles", roles, "scopes", out.Grants, "connected", out.Connected)
	return out, nil
}

// Get 返回会话；过期会话在读取时被删除。
func (m *Manager) Get(wallet string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.liveLocked(w)
	if err != nil {
		return Session{}, err
	}
	return st.snapshot(), nil
}

// ValidateToken 校验令牌属于该钱包且未过期，任何不一致都返回 false。
func (m *Manager) ValidateToken(token, wallet string) (Session, bool) {
	token = strings.TrimSpace(token)
	w := strings.ToLower(strings.TrimSpace(wallet))
	if token == "" || w == "" {
		return Session{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.tokens[token]
	if !ok || owner != w {
		return Session{}, false
	}
	st, err := m.liveLocked(w)
	if err != nil || st.token != token {
		return Session{}, false
	}
	return st.snapshot(), true
}

// Connect 连接能力组，并把 extraScopes 中允许授权的部分加入授权集合。
// 没有新增授权时只计算新连接的能力组，否则重新计算全部已连接能力组。
func (m *Manager) Connect(ctx context.Context, wallet string, groupIDs []string, extraScopes []string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, id := range groupIDs {
		if _, ok := snap.App(id); !ok {
			return Session{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("能力组 %s 不存在", id))
		}
	}

	m.mu.Lock()
	st, err := m.liveLocked(w)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	added, rejected := m.addGrants(st, extraScopes)
	newly := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		if st.isConnected(id) {
			continue
		}
		st.connected = append(st.connected, id)
		newly = append(newly, id)
	}
	touched := newly
	if len(added) > 0 {
		// 新增授权同样会扩大已连接能力组的能力。
		touched = st.connected
	}
	for _, id := range touched {
		st.capabilities[id] = unlocked(snap, id, st.grants)
	}
	out := st.snapshot()
	m.mu.Unlock()

	m.audit.Info("能力组已连接", "wallet", w, "groups", newly, "scopes", added, "rejected_scopes", rejected)
	return out, nil
}

// Disconnect 断开能力组并移除其能力映射。
func (m *Manager) Disconnect(wallet string, groupIDs []string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	st, err := m.liveLocked(w)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	remove := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		remove[id] = struct{}{}
	}
	kept := st.connected[:0]
	for _, id := range st.connected {
		if _, ok := remove[id]; ok {
			delete(st.capabilities, id)
			continue
		}
		kept = append(kept, id)
	}
	st.connected = kept
	out := st.snapshot()
	m.mu.Unlock()

	m.audit.Info("能力组已断开", "wallet", w, "groups", groupIDs)
	return out, nil
}

// Grant 增加授权范围并重新计算所有已连接能力组。不在允许列表中的范围被忽略。
func (m *Manager) Grant(ctx context.Context, wallet string, scopes []string) (Session, error) {
	return m.mutateGrants(ctx, wallet, func(st *state) ([]string, []string) {
		return m.addGrants(st, scopes)
	}, "授权范围已增加")
}

// Revoke 撤销授权范围并重新计算所有已连接能力组。
func (m *Manager) Revoke(ctx context.Context, wallet string, scopes []string) (Session, error) {
	return m.mutateGrants(ctx, wallet, func(st *state) ([]string, []string) {
		removed := make([]string, 0, len(scopes))
		for _, scope := range normalizeList(scopes) {
			if _, ok := st.grants[scope]; ok {
				delete(st.grants, scope)
				removed = append(removed, scope)
			}
		}
		return removed, nil
	}, "授权范围已撤销")
}

// Refresh 将过期时间延长到当前时间加 TTL。
func (m *Manager) Refresh(wallet string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	st, err := m.liveLocked(w)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	st.expiresAt = m.now().Add(m.ttl)
	out := st.snapshot()
	m.mu.Unlock()

	m.audit.Info("会话已续期", "wallet", w, "expires_at", out.ExpiresAt)
	return out, nil
}

// Terminate 结束会话并删除令牌映射。
func (m *Manager) Terminate(wallet string) error {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return err
	}
	m.mu.Lock()
	st, ok := m.sessions[w]
	if ok {
		delete(m.tokens, st.token)
		delete(m.sessions, w)
	}
	m.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodeSessionNotFound, "会话不存在", apperrors.WithMetadata("wallet", w))
	}
	m.audit.Info("会话已结束", "wallet", w)
	return nil
}

// Count 返回当前会话数（包含尚未被访问到的过期会话）。
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Consentable 返回排序后的可授权范围。
func (m *Manager) Consentable() []string {
	out := make([]string, 0, len(m.consentable))
	for scope := range m.consentable {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) mutateGrants(ctx context.Context, wallet string, mutate func(*state) ([]string, []string), message string) (Session, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Session{}, err
	}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	st, err := m.liveLocked(w)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	changed, rejected := mutate(st)
	for _, id := range st.connected {
		st.capabilities[id] = unlocked(snap, id, st.grants)
	}
	out := st.snapshot()
	m.mu.Unlock()

	m.audit.Info(message, "wallet", w, "scopes", changed, "rejected_scopes", rejected)
	return out, nil
}

func (m *Manager) addGrants(st *state, scopes []string) ([]string, []string) {
	var added, rejected []string
	for _, scope := range normalizeList(scopes) {
		if _, ok := m.consentable[scope]; !ok {
			rejected = append(rejected, scope)
			continue
		}
		if _, ok := st.grants[scope]; !ok {
			st.grants[scope] = struct{}{}
			added = append(added, scope)
		}
	}
	return added, rejected
}

// liveLocked 返回未过期的会话，过期会话被删除。调用方需持有锁。
func (m *Manager) liveLocked(wallet string) (*state, error) {
	st, ok := m.sessions[wallet]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "会话不存在", apperrors.WithMetadata("wallet", wallet))
	}
	if !m.now().Before(st.expiresAt) {
		delete(m.tokens, st.token)
		delete(m.sessions, wallet)
		m.audit.Info("会话已过期", "wallet", wallet)
		return nil, apperrors.New(apperrors.CodeSessionExpired, "会话已过期", apperrors.WithMetadata("wallet", wallet))
	}
	return st, nil
}

func (m *Manager) snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	if m.catalog == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "会话管理器缺少能力目录")
	}
	return m.catalog.Snapshot(ctx)
}

// unlocked 返回能力组中所有授权范围均已授予的 endpoint 键。
func unlocked(snap *catalog.Snapshot, groupID string, grants map[string]struct{}) []string {
	keys := make([]string, 0)
	for _, ep := range snap.ListByGroup(groupID) {
		if hasAll(grants, ep.Scopes) {
			keys = append(keys, ep.Key)
		}
	}
	return keys
}

func hasAll(grants map[string]struct{}, scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, scope := range scopes {
		if _, ok := grants[strings.ToLower(scope)]; !ok {
			return false
		}
	}
	return true
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
