package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/session"
	loggerpkg "OpenMCP-Intent/pkg/logger"
)

// WalletHeader 携带会话所属的钱包地址。
const WalletHeader = "X-Wallet-Address"

// Validator 校验令牌与钱包是否匹配，session.Manager 实现了该接口。
type Validator interface {
	ValidateToken(token, wallet string) (session.Session, bool)
}

// Middleware 要求请求携带 Bearer 令牌与钱包地址，任何校验失败都返回 401。
func Middleware(v Validator, audit *slog.Logger) func(http.Handler) http.Handler {
	if audit == nil {
		audit = loggerpkg.Audit()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))
			wallet := strings.TrimSpace(r.Header.Get(WalletHeader))
			var (
				sess session.Session
				ok   bool
			)
			if v != nil && token != "" && wallet != "" {
				sess, ok = v.ValidateToken(token, wallet)
			}
			if !ok {
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"wallet", wallet,
					"has_token", token != "",
				)
				writeUnauthorized(w)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSession(r.Context(), sess)))
			audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"wallet", sess.Wallet,
			)
		})
	}
}

// BearerToken 解析 Authorization 头中的 Bearer 令牌。
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": false,
		"error": map[string]string{
			"code":     string(apperrors.CodeSessionNotFound),
			"category": "consent",
			"message":  "session token is missing, expired or does not match the wallet",
		},
	})
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
