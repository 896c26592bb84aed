package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenMCP-Intent/internal/auth"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/orchestrator"
	"OpenMCP-Intent/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口，供语音或文本前端驱动编排服务。
type Server struct {
	addr         string
	svc          *orchestrator.Service
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger
}

// Option 调整服务器参数。
type Option func(*Server)

// WithTimeouts 设置读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *orchestrator.Service, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		svc:          svc,
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
		log:          logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 构建完整的路由。
func (s *Server) Handler() http.Handler {
	m := s.svc.Metrics()
	protected := auth.Middleware(s.svc.Sessions(), nil)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("POST /api/v1/sessions", m.Middleware("session_start", http.HandlerFunc(s.handleStartSession)))

	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, m.Middleware(name, protected(h)))
	}
	route("GET /api/v1/sessions/me", "session_get", s.handleGetSession)
	route("DELETE /api/v1/sessions/me", "session_end", s.handleEndSession)
	route("POST /api/v1/sessions/me/{action}", "session_update", s.handleUpdateSession)
	route("POST /api/v1/command", "command", s.handleCommand)
	route("GET /api/v1/catalog", "catalog_list", s.handleCatalog)
	route("GET /api/v1/catalog/endpoints/{key}", "catalog_describe", s.handleDescribe)
	route("GET /api/v1/catalog/search", "catalog_search", s.handleSearch)
	route("GET /api/v1/catalog/templates", "catalog_templates", s.handleTemplates)
	route("POST /api/v1/catalog/query", "catalog_query", s.handleQuery)
	route("GET /api/v1/reviews", "review_list", s.handleListReviews)
	route("POST /api/v1/reviews/{id}/{decision}", "review_decide", s.handleDecideReview)
	route("PUT /api/v1/credentials/{provider}", "credential_put", s.handlePutCredential)
	route("DELETE /api/v1/credentials/{provider}", "credential_delete", s.handleDeleteCredential)
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务已启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Snapshot(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "catalog is unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"endpoints": len(snap.Keys()),
		"sessions":  s.svc.Sessions().Count(),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "server is shutting down"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func decode(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "request body is not valid JSON")
	}
	return nil
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Named("api").Error("响应编码失败", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := orchestrator.ClassifyError(err)
	writeJSON(w, statusFor(body.Code), map[string]any{"ok": false, "error": body})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeValidationFailed:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeAlreadyCompleted:
		return http.StatusConflict
	case apperrors.CodeSessionNotFound, apperrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case apperrors.CodeConsentRequired, apperrors.CodeRoleDenied:
		return http.StatusForbidden
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
