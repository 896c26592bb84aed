package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/handlers"
	"OpenMCP-Intent/internal/knowledge"
	"OpenMCP-Intent/internal/observability/metrics"
	"OpenMCP-Intent/internal/orchestrator"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/internal/storage"
)

const wallet = "0x1111111111111111111111111111111111111111"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cat := catalog.New()
	sessions := session.NewManager(cat, session.Config{
		TTL:               time.Hour,
		AutoConsentScopes: []string{"profile", "knowledge"},
		ConsentableScopes: []string{"notes", "messages"},
	})
	svc, err := orchestrator.New(orchestrator.Components{
		Catalog:  cat,
		Sessions: sessions,
		Tables: handlers.Tables(handlers.Deps{
			Store:     storage.NewMemoryStore(),
			Knowledge: knowledge.NewStaticProvider(knowledge.DefaultSnippets(), 3),
		}),
		Metrics: metrics.NewCollector(),
	})
	if err != nil {
		t.Fatalf("创建服务失败: %v", err)
	}
	srv := httptest.NewServer(NewServer(":0", svc).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求失败: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("创建请求失败: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Wallet-Address", wallet)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
	}
	return resp.StatusCode, out
}

func startSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/v1/sessions", "", map[string]any{"wallet": wallet})
	if status != http.StatusCreated {
		t.Fatalf("unexpected status %d: %v", status, body)
	}
	sess := body["session"].(map[string]any)
	return sess["token"].(string)
}

func TestProtectedRoutesFailClosed(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodPost, "/api/v1/command", "", map[string]any{"utterance": "list my notes"})
	if status != http.StatusUnauthorized || body["ok"] != false {
		t.Fatalf("expected 401, got %d %v", status, body)
	}
	status, _ = do(t, srv, http.MethodGet, "/api/v1/catalog", "forged-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("forged token must be rejected, got %d", status)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	token := startSession(t, srv)

	_, body := do(t, srv, http.MethodPost, "/api/v1/command", token, map[string]any{"utterance": "list my notes"})
	if body["ok"] != false {
		t.Fatalf("notes scope not granted yet: %v", body)
	}
	errBody := body["error"].(map[string]any)
	if errBody["category"] != "consent" {
		t.Fatalf("unexpected error: %v", errBody)
	}

	status, _ := do(t, srv, http.MethodPost, "/api/v1/sessions/me/grant", token, map[string]any{"scopes": []string{"notes"}})
	if status != http.StatusOK {
		t.Fatalf("grant failed: %d", status)
	}
	status, body = do(t, srv, http.MethodPost, "/api/v1/command", token, map[string]any{"utterance": "list my notes"})
	if status != http.StatusOK || body["ok"] != true || body["feature"] != "notes.list" {
		t.Fatalf("unexpected command response: %d %v", status, body)
	}
}

func TestCatalogRoutes(t *testing.T) {
	srv := newTestServer(t)
	token := startSession(t, srv)

	status, body := do(t, srv, http.MethodGet, "/api/v1/catalog?scope=notes", token, nil)
	if status != http.StatusOK || len(body["endpoints"].([]any)) != 2 {
		t.Fatalf("unexpected scope listing: %d %v", status, body)
	}
	status, _ = do(t, srv, http.MethodGet, "/api/v1/catalog/endpoints/missing.key", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	status, body = do(t, srv, http.MethodPost, "/api/v1/catalog/query", token, map[string]any{"text": "describe notes.create"})
	if status != http.StatusOK || body["result"].(map[string]any)["found"] != true {
		t.Fatalf("unexpected query response: %d %v", status, body)
	}
	status, _ = do(t, srv, http.MethodGet, "/api/v1/catalog/search", token, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("empty search must be rejected, got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected health: %d %v", status, body)
	}
	startSession(t, srv)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("请求指标失败: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `openmcp_http_requests_total{handler="session_start"`) {
		t.Fatalf("session_start not counted:\n%s", buf.String())
	}
}

func TestCredentialWithoutVault(t *testing.T) {
	srv := newTestServer(t)
	token := startSession(t, srv)
	status, _ := do(t, srv, http.MethodPut, "/api/v1/credentials/spotify", token, map[string]any{"access_token": "x"})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without vault, got %d", status)
	}
}
