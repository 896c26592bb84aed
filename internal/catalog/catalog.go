package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"OpenMCP-Intent/pkg/logger"
)

// Snapshot 是一次合并得到的不可变目录视图。读者总是看到完整的新旧快照之一。
type Snapshot struct {
	endpoints     map[string]Endpoint
	keys          []string
	apps          map[string]App
	appIDs        []string
	manifestCount int
}

// Lookup 按键查找 endpoint。
func (s *Snapshot) Lookup(key string) (Endpoint, bool) {
	if s == nil {
		return Endpoint{}, false
	}
	ep, ok := s.endpoints[strings.TrimSpace(key)]
	if !ok {
		return Endpoint{}, false
	}
	return ep.clone(), true
}

// Has 判断键是否存在于快照中。
func (s *Snapshot) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.endpoints[key]
	return ok
}

// Keys 返回排序后的全部 endpoint 键。
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// All 返回按键排序的全部 endpoint。
func (s *Snapshot) All() []Endpoint {
	return s.filter(func(Endpoint) bool { return true })
}

// ListByGroup 返回属于指定能力组的 endpoint。
func (s *Snapshot) ListByGroup(groupID string) []Endpoint {
	groupID = strings.TrimSpace(groupID)
	return s.filter(func(ep Endpoint) bool { return strings.EqualFold(ep.Group, groupID) })
}

// ListByScope 返回声明了指定授权范围的 endpoint。
func (s *Snapshot) ListByScope(scope string) []Endpoint {
	scope = strings.TrimSpace(scope)
	return s.filter(func(ep Endpoint) bool { return ep.HasScope(scope) })
}

// Search 对键、描述与函数名做大小写不敏感的子串匹配。
func (s *Snapshot) Search(query string) []Endpoint {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	return s.filter(func(ep Endpoint) bool {
		return strings.Contains(strings.ToLower(ep.Key), needle) ||
			strings.Contains(strings.ToLower(ep.Description), needle) ||
			strings.Contains(strings.ToLower(ep.Function), needle)
	})
}

// Endpoints 返回以键索引的 endpoint 副本，供语义匹配器整体打分。
func (s *Snapshot) Endpoints() map[string]Endpoint {
	if s == nil {
		return nil
	}
	out := make(map[string]Endpoint, len(s.endpoints))
	for key, ep := range s.endpoints {
		out[key] = ep.clone()
	}
	return out
}

// Apps 返回按 ID 排序的能力组，Endpoints 字段为合并后的结果。
func (s *Snapshot) Apps() []App {
	if s == nil {
		return nil
	}
	out := make([]App, 0, len(s.appIDs))
	for _, id := range s.appIDs {
		app, _ := s.App(id)
		out = append(out, app)
	}
	return out
}

// App 按 ID 返回能力组。
func (s *Snapshot) App(id string) (App, bool) {
	if s == nil {
		return App{}, false
	}
	app, ok := s.apps[id]
	if !ok {
		return App{}, false
	}
	app.Permissions = append([]string(nil), app.Permissions...)
	app.Endpoints = s.ListByGroup(id)
	return app, true
}

// ManifestCount 返回构建该快照时的动态清单数量。
func (s *Snapshot) ManifestCount() int {
	if s == nil {
		return 0
	}
	return s.manifestCount
}

func (s *Snapshot) filter(keep func(Endpoint) bool) []Endpoint {
	if s == nil {
		return nil
	}
	out := make([]Endpoint, 0)
	for _, key := range s.keys {
		ep := s.endpoints[key]
		if keep(ep) {
			out = append(out, ep.clone())
		}
	}
	return out
}

// Catalog 负责合并静态默认项、外部能力组与动态清单，并缓存最近一次快照。
type Catalog struct {
	defaults []App
	external []App
	source   ManifestSource
	enricher Enricher

	mu         sync.RWMutex
	registered []App

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// Option 配置目录。
type Option func(*Catalog)

// WithDefaults 替换静态默认能力组。
func WithDefaults(apps []App) Option {
	return func(c *Catalog) { c.defaults = apps }
}

// WithExternalApps 替换外部能力组。
func WithExternalApps(apps []App) Option {
	return func(c *Catalog) { c.external = apps }
}

// WithManifestSource 设置动态清单来源。
func WithManifestSource(src ManifestSource) Option {
	return func(c *Catalog) { c.source = src }
}

// WithEnricher 设置语义补全器。
func WithEnricher(e Enricher) Option {
	return func(c *Catalog) { c.enricher = e }
}

// New 创建目录，默认包含内置能力组与外部能力组。
func New(opts ...Option) *Catalog {
	c := &Catalog{defaults: DefaultApps(), external: ExternalApps()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register 在进程内注册一个能力组清单；同 ID 的清单会被替换。
func (c *Catalog) Register(app App) error {
	if err := validateApp(app); err != nil {
		return err
	}
	c.mu.Lock()
	replaced := false
	for i := range c.registered {
		if c.registered[i].ID == app.ID {
			c.registered[i] = app
			replaced = true
			break
		}
	}
	if !replaced {
		c.registered = append(c.registered, app)
	}
	c.mu.Unlock()
	if replaced {
		// 数量不变时计数信号失效，需要显式作废。
		c.Invalidate()
	}
	return nil
}

// Unregister 移除进程内注册的能力组。
func (c *Catalog) Unregister(id string) bool {
	c.mu.Lock()
	removed := false
	for i := range c.registered {
		if c.registered[i].ID == id {
			c.registered = append(c.registered[:i], c.registered[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()
	if removed {
		// 随后的 Register 可能使数量恢复原值。
		c.Invalidate()
	}
	return removed
}

// Invalidate 丢弃缓存的快照，下次读取时重新构建。
func (c *Catalog) Invalidate() {
	c.current.Store(nil)
}

// Current 返回最近一次构建的快照，未构建时返回 nil。
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

// Snapshot 返回当前快照。只有动态清单数量变化时才重新合并，并发的重建请求会被合并为一次。
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	manifests, err := c.manifests(ctx)
	if err != nil {
		if cur := c.current.Load(); cur != nil {
			logger.L().Warn("拉取动态清单失败，继续使用旧快照", "error", err)
			return cur, nil
		}
		return nil, err
	}
	count := len(manifests)
	if cur := c.current.Load(); cur != nil && cur.manifestCount == count {
		return cur, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("build:%d", count), func() (any, error) {
		if cur := c.current.Load(); cur != nil && cur.manifestCount == count {
			return cur, nil
		}
		snap := c.build(manifests)
		c.current.Store(snap)
		logger.L().Info("能力目录已重建",
			"endpoints", len(snap.keys),
			"manifests", count,
		)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Rebuild 作废缓存并立即重建。
func (c *Catalog) Rebuild(ctx context.Context) (*Snapshot, error) {
	c.Invalidate()
	return c.Snapshot(ctx)
}

func (c *Catalog) manifests(ctx context.Context) ([]App, error) {
	var out []App
	if c.source != nil {
		apps, err := c.source.Manifests(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, apps...)
	}
	c.mu.RLock()
	out = append(out, c.registered...)
	c.mu.RUnlock()
	return out, nil
}

func (c *Catalog) build(manifests []App) *Snapshot {
	snap := &Snapshot{
		endpoints:     make(map[string]Endpoint),
		apps:          make(map[string]App),
		manifestCount: len(manifests),
	}
	layers := [][]App{c.defaults, c.external, manifests}
	for _, layer := range layers {
		for _, app := range layer {
			c.mergeApp(snap, app)
		}
	}

	snap.keys = make([]string, 0, len(snap.endpoints))
	for key, ep := range snap.endpoints {
		if ep.Semantics.Empty() && c.enricher != nil {
			ep.Semantics = c.enricher.Generate(ep.Description, ep.Args.Names())
			ep.Generated = true
			snap.endpoints[key] = ep
		}
		snap.keys = append(snap.keys, key)
	}
	sort.Strings(snap.keys)

	snap.appIDs = make([]string, 0, len(snap.apps))
	for id := range snap.apps {
		snap.appIDs = append(snap.appIDs, id)
	}
	sort.Strings(snap.appIDs)
	return snap
}

func (c *Catalog) mergeApp(snap *Snapshot, app App) {
	id := strings.TrimSpace(app.ID)
	if id == "" {
		return
	}
	meta := app
	meta.Endpoints = nil
	meta.Permissions = normalizeScopes(app.Permissions)
	snap.apps[id] = meta

	for _, raw := range app.Endpoints {
		ep := raw.clone()
		ep.Key = strings.TrimSpace(ep.Key)
		if ep.Key == "" {
			continue
		}
		if ep.Group == "" {
			ep.Group = id
		}
		if ep.Version == "" {
			ep.Version = app.Version
		}
		ep.Scopes = normalizeScopes(ep.Scopes)
		if len(ep.Scopes) == 0 {
			ep.Scopes = append([]string(nil), meta.Permissions...)
		}
		if len(ep.Scopes) == 0 {
			logger.L().Warn("endpoint 未声明授权范围，已跳过", "endpoint", ep.Key, "group", id)
			continue
		}
		ep.Generated = false
		snap.endpoints[ep.Key] = ep
	}
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}
