package catalog

import (
	"sort"
	"strings"
)

// ArgType 描述 endpoint 参数的声明类型。数组类型以 "[]" 结尾。
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeObject  ArgType = "object"
	TypeAny     ArgType = "any"
)

// IsArray 判断类型是否为数组类型。
func (t ArgType) IsArray() bool {
	return strings.HasSuffix(string(t), "[]")
}

// Elem 返回数组的元素类型；非数组类型返回自身。
func (t ArgType) Elem() ArgType {
	if t.IsArray() {
		return ArgType(strings.TrimSuffix(string(t), "[]"))
	}
	return t
}

// Schema 是参数名到参数类型的映射。
type Schema map[string]ArgType

// Names 返回排序后的参数名列表。
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Semantics 是 endpoint 的语义元数据，供语义匹配器使用。
type Semantics struct {
	Intents []string `json:"intents,omitempty" yaml:"intents,omitempty"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Phrases []string `json:"phrases,omitempty" yaml:"phrases,omitempty"`
}

// Empty 判断是否未提供任何语义信息。
func (s Semantics) Empty() bool {
	return len(s.Intents) == 0 && len(s.Tags) == 0 && len(s.Phrases) == 0
}

// Policy 描述 endpoint 的调用策略。
type Policy struct {
	AllowedRoles       []string `json:"allowed_roles,omitempty" yaml:"allowed_roles,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
	ReviewRequired     bool     `json:"review_required,omitempty" yaml:"review_required,omitempty"`
	Visibility         string   `json:"visibility,omitempty" yaml:"visibility,omitempty"`
}

// AllowsRole 判断角色是否满足策略。未声明角色时允许所有调用者。
func (p Policy) AllowsRole(roles ...string) bool {
	if len(p.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range p.AllowedRoles {
		for _, role := range roles {
			if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(role)) {
				return true
			}
		}
	}
	return false
}

// Endpoint 是能力的最小单元，以点分键全局唯一标识。
type Endpoint struct {
	Key         string    `json:"key" yaml:"key"`
	Group       string    `json:"group" yaml:"group,omitempty"`
	Version     string    `json:"version" yaml:"version,omitempty"`
	Function    string    `json:"function,omitempty" yaml:"function,omitempty"`
	Args        Schema    `json:"args,omitempty" yaml:"args,omitempty"`
	Scopes      []string  `json:"scopes" yaml:"scopes,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Semantics   Semantics `json:"semantics" yaml:"semantics,omitempty"`
	Policy      Policy    `json:"policy" yaml:"policy,omitempty"`
	// Generated 表示 Semantics 由生成器补全，而非作者提供。
	Generated bool `json:"generated_semantics,omitempty" yaml:"-"`
}

// HasScope 判断 endpoint 是否声明了指定授权范围。
func (e Endpoint) HasScope(scope string) bool {
	for _, s := range e.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

func (e Endpoint) clone() Endpoint {
	out := e
	out.Scopes = append([]string(nil), e.Scopes...)
	out.Semantics = Semantics{
		Intents: append([]string(nil), e.Semantics.Intents...),
		Tags:    append([]string(nil), e.Semantics.Tags...),
		Phrases: append([]string(nil), e.Semantics.Phrases...),
	}
	out.Policy.AllowedRoles = append([]string(nil), e.Policy.AllowedRoles...)
	if e.Args != nil {
		out.Args = make(Schema, len(e.Args))
		for k, v := range e.Args {
			out.Args[k] = v
		}
	}
	return out
}

// App 是共享适配器与权限集合的一组 endpoint（能力组）。
type App struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Version     string     `json:"version" yaml:"version"`
	Adapter     string     `json:"adapter" yaml:"adapter"`
	Permissions []string   `json:"permissions" yaml:"permissions"`
	Endpoints   []Endpoint `json:"endpoints,omitempty" yaml:"endpoints"`
}

// Enricher 为缺少语义元数据的 endpoint 生成语义信息。
type Enricher interface {
	Generate(description string, argNames []string) Semantics
}
