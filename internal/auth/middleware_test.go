package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"OpenMCP-Intent/internal/session"
)

type staticValidator struct {
	token  string
	wallet string
}

func (v staticValidator) ValidateToken(token, wallet string) (session.Session, bool) {
	if token != v.token || wallet != v.wallet {
		return session.Session{}, false
	}
	return session.Session{Wallet: wallet, Token: token}, true
}

func TestMiddleware(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	h := Middleware(staticValidator{token: "tok", wallet: "0xabc"}, quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			t.Errorf("session missing from context")
		}
		seen = sess.Wallet
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		name   string
		auth   string
		wallet string
		want   int
	}{
		{name: "valid", auth: "Bearer tok", wallet: "0xabc", want: http.StatusAccepted},
		{name: "lowercase scheme", auth: "bearer tok", wallet: "0xabc", want: http.StatusAccepted},
		{name: "missing token", wallet: "0xabc", want: http.StatusUnauthorized},
		{name: "missing wallet", auth: "Bearer tok", want: http.StatusUnauthorized},
		{name: "wrong wallet", auth: "Bearer tok", wallet: "0xdef", want: http.StatusUnauthorized},
		{name: "basic scheme", auth: "Basic tok", wallet: "0xabc", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/me", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			if tc.wallet != "" {
				req.Header.Set(WalletHeader, tc.wallet)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if seen != "0xabc" {
		t.Fatalf("unexpected wallet in context: %q", seen)
	}
}

func TestMiddlewareFailsClosedWithoutValidator(t *testing.T) {
	h := Middleware(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(WalletHeader, "0xabc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionFromEmptyContext(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry a session")
	}
}
