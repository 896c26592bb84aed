package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRendersAllFamilies(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("command", http.MethodPost, 200, 30*time.Millisecond)
	c.ObserveHTTPRequest("command", http.MethodPost, 500, 20*time.Second)
	c.ObserveIntent("literal")
	c.ObserveIntent("")
	c.ObserveStep("wallet.balance.get", "ok")
	c.ObserveStep("wallet.balance.get", "ok")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`openmcp_http_requests_total{handler="command",method="POST",code="200"} 1`,
		`openmcp_http_request_errors_total{handler="command",method="POST"} 1`,
		`openmcp_http_request_duration_seconds_bucket{handler="command",method="POST",le="0.05"} 1`,
		`openmcp_http_request_duration_seconds_bucket{handler="command",method="POST",le="+Inf"} 2`,
		`openmcp_intent_requests_total{tier="literal"} 1`,
		`openmcp_intent_requests_total{tier="unrecognized"} 1`,
		`openmcp_step_executions_total{endpoint="wallet.balance.get",status="ok"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("指标缺少 %q:\n%s", want, body)
		}
	}
	if c.StepCount("wallet.balance.get", "ok") != 2 {
		t.Fatalf("unexpected step count")
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	c := NewCollector()
	h := c.Middleware("teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status not forwarded: %d", rec.Code)
	}

	if !strings.Contains(c.render(), `openmcp_http_requests_total{handler="teapot",method="GET",code="418"} 1`) {
		t.Fatalf("middleware did not record status:\n%s", c.render())
	}
}

func TestEscape(t *testing.T) {
	if got := escape("a\"b\\c\nd"); got != `a\"b\\cd` {
		t.Fatalf("unexpected escape: %q", got)
	}
}
