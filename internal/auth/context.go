// Package auth 校验 Bearer 会话令牌与钱包地址，并把会话放入请求上下文。
package auth

import (
	"context"

	"OpenMCP-Intent/internal/session"
)

// sessionKey 是上下文中存储会话的键类型。
type sessionKey struct{}

// WithSession 将通过校验的会话存入上下文。
func WithSession(ctx context.Context, sess session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext 从上下文中取出会话。
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	if ctx == nil {
		return session.Session{}, false
	}
	sess, ok := ctx.Value(sessionKey{}).(session.Session)
	return sess, ok
}
