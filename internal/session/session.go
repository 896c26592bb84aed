package session

import (
	"sort"
	"strings"
	"time"
)

// DefaultRole 是未声明角色时使用的角色。
const DefaultRole = "user"

// Session 描述一个钱包绑定的调用者。返回给调用方的都是副本。
type Session struct {
	Wallet       string              `json:"wallet"`
	Token        string              `json:"token,omitempty"`
	Roles        []string            `json:"roles"`
	Grants       []string            `json:"grants"`
	Connected    []string            `json:"connected"`
	Capabilities map[string][]string `json:"capabilities"`
	IssuedAt     time.Time           `json:"issued_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// Role 返回主角色。
func (s Session) Role() string {
	if len(s.Roles) == 0 {
		return DefaultRole
	}
	return s.Roles[0]
}

// HasRole 判断会话是否拥有某角色。
func (s Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasScope 判断会话是否持有某授权范围。
func (s Session) HasScope(scope string) bool {
	scope = strings.ToLower(strings.TrimSpace(scope))
	for _, g := range s.Grants {
		if g == scope {
			return true
		}
	}
	return false
}

// Expired 判断会话在给定时间是否已过期。
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CanInvoke 判断 endpoint 是否出现在能力映射中。
func (s Session) CanInvoke(key string) bool {
	for _, keys := range s.Capabilities {
		for _, k := range keys {
			if k == key {
				return true
			}
		}
	}
	return false
}

type state struct {
	wallet       string
	token        string
	roles        []string
	grants       map[string]struct{}
	connected    []string
	capabilities map[string][]string
	issuedAt     time.Time
	expiresAt    time.Time
}

func (s *state) snapshot() Session {
	out := Session{
		Wallet:       s.wallet,
		Token:        s.token,
		Roles:        append([]string(nil), s.roles...),
		Grants:       make([]string, 0, len(s.grants)),
		Connected:    append([]string(nil), s.connected...),
		Capabilities: make(map[string][]string, len(s.capabilities)),
		IssuedAt:     s.issuedAt,
		ExpiresAt:    s.expiresAt,
	}
	for g := range s.grants {
		out.Grants = append(out.Grants, g)
	}
	sort.Strings(out.Grants)
	for group, keys := range s.capabilities {
		out.Capabilities[group] = append([]string(nil), keys...)
	}
	return out
}

func (s *state) isConnected(group string) bool {
	for _, g := range s.connected {
		if g == group {
			return true
		}
	}
	return false
}

func (s *state) grantList() []string {
	out := make([]string, 0, len(s.grants))
	for g := range s.grants {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
