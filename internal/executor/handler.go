package executor

import (
	"context"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/session"
)

// Tier 是 handler 所属的执行层级。
type Tier string

const (
	TierDirect       Tier = "direct"
	TierStorage      Tier = "storage"
	TierAuthRequired Tier = "auth_required"
)

// Status 是单步执行的结果状态。
type Status string

const (
	StatusOK                    Status = "ok"
	StatusAuthorizationRequired Status = "authorization_required"
	StatusNotImplemented        Status = "not_implemented"
	StatusPendingReview         Status = "pending_review"
	StatusFailed                Status = "failed"
)

// Call 是传给 handler 的调用上下文。
type Call struct {
	Session  session.Session
	Endpoint catalog.Endpoint
	Args     map[string]any
}

// Text 返回字符串参数，缺失时返回空串。
func (c Call) Text(name string) string {
	if v, ok := c.Args[name].(string); ok {
		return v
	}
	return ""
}

// Number 返回数字参数，支持数字字符串。
func (c Call) Number(name string) (float64, bool) {
	v, ok := c.Args[name]
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

// Int 返回整数参数，缺失或非法时返回 fallback。
func (c Call) Int(name string, fallback int) int {
	if n, ok := c.Number(name); ok && n > 0 {
		return int(n)
	}
	return fallback
}

// Result 是成功执行的结果，Message 必须是可播报的文本。
type Result struct {
	Endpoint      string         `json:"endpoint"`
	Status        Status         `json:"status"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Authorization *Authorization `json:"authorization,omitempty"`
	TicketID      string         `json:"ticket_id,omitempty"`
}

// Authorization 描述调用方需要在带外完成的授权步骤。
type Authorization struct {
	Kind     string         `json:"kind"`
	Provider string         `json:"provider,omitempty"`
	Detail   string         `json:"detail"`
	Data     map[string]any `json:"data,omitempty"`
}

// Handler 是三种 handler 层级的封闭联合，只能由本包中的函数类型实现。
type Handler interface {
	Tier() Tier
	sealed()
}

// DirectHandler 可直接执行，不依赖持久化。
type DirectHandler func(ctx context.Context, call Call) (Result, error)

// Tier 实现 Handler。
func (DirectHandler) Tier() Tier { return TierDirect }
func (DirectHandler) sealed()    {}

// StorageHandler 读写持久化存储。
type StorageHandler func(ctx context.Context, call Call) (Result, error)

// Tier 实现 Handler。
func (StorageHandler) Tier() Tier { return TierStorage }
func (StorageHandler) sealed()    {}

// AuthRequiredHandler 不执行调用，只返回调用方需要完成的授权步骤。
type AuthRequiredHandler func(ctx context.Context, call Call) (Authorization, error)

// Tier 实现 Handler。
func (AuthRequiredHandler) Tier() Tier { return TierAuthRequired }
func (AuthRequiredHandler) sealed()    {}

// Tables 是三张 handler 表。
type Tables struct {
	Direct       map[string]DirectHandler
	Storage      map[string]StorageHandler
	AuthRequired map[string]AuthRequiredHandler
}

// Merge 合并另一组表，后者覆盖同名键。
func (t Tables) Merge(other Tables) Tables {
	out := Tables{
		Direct:       make(map[string]DirectHandler, len(t.Direct)+len(other.Direct)),
		Storage:      make(map[string]StorageHandler, len(t.Storage)+len(other.Storage)),
		AuthRequired: make(map[string]AuthRequiredHandler, len(t.AuthRequired)+len(other.AuthRequired)),
	}
	for _, src := range []Tables{t, other} {
		for k, h := range src.Direct {
			out.Direct[k] = h
		}
		for k, h := range src.Storage {
			out.Storage[k] = h
		}
		for k, h := range src.AuthRequired {
			out.AuthRequired[k] = h
		}
	}
	return out
}

// registry 是启动时构建、之后只读的路由表。
type registry struct {
	direct  map[string]DirectHandler
	storage map[string]StorageHandler
	auth    map[string]AuthRequiredHandler
}

func newRegistry(t Tables) registry {
	merged := Tables{}.Merge(t)
	return registry{direct: merged.Direct, storage: merged.Storage, auth: merged.AuthRequired}
}

// route 依次查找直接执行表、存储表与授权表。
func (r registry) route(key string) (Handler, bool) {
	if h, ok := r.direct[key]; ok && h != nil {
		return h, true
	}
	if h, ok := r.storage[key]; ok && h != nil {
		return h, true
	}
	if h, ok := r.auth[key]; ok && h != nil {
		return h, true
	}
	return nil, false
}

func (r registry) keys() map[string]Tier {
	out := make(map[string]Tier, len(r.direct)+len(r.storage)+len(r.auth))
	for k := range r.auth {
		out[k] = TierAuthRequired
	}
	for k := range r.storage {
		out[k] = TierStorage
	}
	for k := range r.direct {
		out[k] = TierDirect
	}
	return out
}
