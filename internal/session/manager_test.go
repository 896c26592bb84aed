package session

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
)

const testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	seq := 0
	m := NewManager(catalog.New(), Config{
		TTL:               time.Hour,
		AutoConsentScopes: []string{"profile", "knowledge", "search"},
		ConsentableScopes: []string{"wallet", "payments", "messages", "notes", "ledger", "music"},
	}, WithClock(clock.Now), WithTokenGenerator(func() string {
		seq++
		return fmt.Sprintf("token-%d", seq)
	}))
	return m, clock
}

func TestStartSeedsAutoConsentAndConnectsGroups(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Start(context.Background(), testWallet, nil)
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if s.Wallet != "0x52908400098527886e0f7030069857d2e4169ee7" {
		t.Fatalf("wallet must be lowercased, got %q", s.Wallet)
	}
	if !reflect.DeepEqual(s.Grants, []string{"knowledge", "profile", "search"}) {
		t.Fatalf("unexpected grants: %v", s.Grants)
	}
	if !reflect.DeepEqual(s.Connected, []string{"knowledge", "system"}) {
		t.Fatalf("unexpected connected groups: %v", s.Connected)
	}
	if len(s.Capabilities["system"]) != 2 || len(s.Capabilities["knowledge"]) != 2 {
		t.Fatalf("unexpected capabilities: %v", s.Capabilities)
	}
	if s.Role() != DefaultRole {
		t.Fatalf("unexpected role %q", s.Role())
	}
}

func TestStartRotatesToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	first, _ := m.Start(ctx, testWallet, nil)
	second, _ := m.Start(ctx, testWallet, nil)
	if first.Token == second.Token {
		t.Fatalf("expected a new token")
	}
	if _, ok := m.ValidateToken(first.Token, testWallet); ok {
		t.Fatalf("old token must be invalid")
	}
	if _, ok := m.ValidateToken(second.Token, testWallet); !ok {
		t.Fatalf("new token must be valid")
	}
}

func TestValidateTokenFailsClosed(t *testing.T) {
	m, clock := newTestManager(t)
	s, _ := m.Start(context.Background(), testWallet, nil)

	cases := []struct{ token, wallet string }{
		{"", testWallet},
		{s.Token, ""},
		{"unknown", testWallet},
		{s.Token, "0x0000000000000000000000000000000000000001"},
	}
	for _, tc := range cases {
		if _, ok := m.ValidateToken(tc.token, tc.wallet); ok {
			t.Fatalf("expected rejection for %+v", tc)
		}
	}

	clock.now = clock.now.Add(2 * time.Hour)
	if _, ok := m.ValidateToken(s.Token, testWallet); ok {
		t.Fatalf("expired token must be rejected")
	}
	if m.Count() != 0 {
		t.Fatalf("expired session must be deleted on touch")
	}
}

func TestExpiryIsAbsoluteUntilRefresh(t *testing.T) {
	m, clock := newTestManager(t)
	s, _ := m.Start(context.Background(), testWallet, nil)

	clock.now = clock.now.Add(50 * time.Minute)
	if _, err := m.Get(testWallet); err != nil {
		t.Fatalf("session should still be live: %v", err)
	}
	refreshed, err := m.Refresh(testWallet)
	if err != nil {
		t.Fatalf("续期失败: %v", err)
	}
	if !refreshed.ExpiresAt.After(s.ExpiresAt) {
		t.Fatalf("refresh must extend expiry")
	}

	clock.now = clock.now.Add(61 * time.Minute)
	_, err = m.Get(testWallet)
	if apperrors.CodeOf(err) != apperrors.CodeSessionExpired {
		t.Fatalf("expected expiry, got %v", err)
	}
	_, err = m.Get(testWallet)
	if apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("expired session must be gone, got %v", err)
	}
}

func TestGrantRevokeMonotonicity(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Start(ctx, testWallet, nil)
	base, err := m.Connect(ctx, testWallet, []string{"payments", "ledger"}, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	if len(base.Capabilities["payments"]) != 0 {
		t.Fatalf("payments should be locked without grants: %v", base.Capabilities)
	}

	afterWallet, _ := m.Grant(ctx, testWallet, []string{"wallet"})
	assertSuperset(t, afterWallet.Capabilities, base.Capabilities)
	afterPayments, _ := m.Grant(ctx, testWallet, []string{"payments", "ledger"})
	assertSuperset(t, afterPayments.Capabilities, afterWallet.Capabilities)
	if !afterPayments.CanInvoke("payments.send") || !afterPayments.CanInvoke("ledger.anchor") {
		t.Fatalf("expected unlocked endpoints: %v", afterPayments.Capabilities)
	}

	afterRevoke, _ := m.Revoke(ctx, testWallet, []string{"wallet"})
	assertSuperset(t, afterPayments.Capabilities, afterRevoke.Capabilities)
	if afterRevoke.CanInvoke("payments.send") || afterRevoke.CanInvoke("ledger.anchor") {
		t.Fatalf("revoking wallet must lock every endpoint needing it: %v", afterRevoke.Capabilities)
	}
	if !afterRevoke.CanInvoke("ledger.entries.list") {
		t.Fatalf("ledger listing only needs ledger scope")
	}
}

func TestGrantIgnoresNonConsentableScopes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Start(ctx, testWallet, nil)
	s, err := m.Grant(ctx, testWallet, []string{"admin", "notes"})
	if err != nil {
		t.Fatalf("授权失败: %v", err)
	}
	if s.HasScope("admin") || !s.HasScope("notes") {
		t.Fatalf("unexpected grants: %v", s.Grants)
	}
}

func TestConnectThenDisconnectRestoresMap(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	before, _ := m.Start(ctx, testWallet, nil)
	if _, err := m.Connect(ctx, testWallet, []string{"messages"}, nil); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	after, err := m.Disconnect(testWallet, []string{"messages"})
	if err != nil {
		t.Fatalf("断开失败: %v", err)
	}
	if !reflect.DeepEqual(before.Capabilities, after.Capabilities) {
		t.Fatalf("capabilities not restored: %v vs %v", before.Capabilities, after.Capabilities)
	}
	if !reflect.DeepEqual(before.Connected, after.Connected) {
		t.Fatalf("connected groups not restored: %v vs %v", before.Connected, after.Connected)
	}
}

func TestReconnectWithExtraScopesRefreshesMap(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Start(ctx, testWallet, nil)
	s, err := m.Connect(ctx, testWallet, []string{"messages"}, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	if len(s.Capabilities["messages"]) != 0 {
		t.Fatalf("messages scope not granted yet: %v", s.Capabilities["messages"])
	}
	s, err = m.Connect(ctx, testWallet, []string{"messages"}, []string{"messages"})
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	if !reflect.DeepEqual(s.Capabilities["messages"], []string{"messages.list", "messages.send"}) {
		t.Fatalf("already connected group must pick up new scopes: %v", s.Capabilities["messages"])
	}
	count := 0
	for _, id := range s.Connected {
		if id == "messages" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("group must not be connected twice: %v", s.Connected)
	}
}

func TestConnectWithExtraScopes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Start(ctx, testWallet, nil)
	s, err := m.Connect(ctx, testWallet, []string{"messages"}, []string{"messages", "admin"})
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	if !reflect.DeepEqual(s.Capabilities["messages"], []string{"messages.list", "messages.send"}) {
		t.Fatalf("unexpected messages capabilities: %v", s.Capabilities["messages"])
	}
	if s.HasScope("admin") {
		t.Fatalf("admin is not consentable")
	}
	if _, err := m.Connect(ctx, testWallet, []string{"nope"}, nil); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found for unknown group, got %v", err)
	}
}

func TestTerminate(t *testing.T) {
	m, _ := newTestManager(t)
	s, _ := m.Start(context.Background(), testWallet, []string{"Admin"})
	if !s.HasRole("admin") {
		t.Fatalf("roles should be normalised: %v", s.Roles)
	}
	if err := m.Terminate(testWallet); err != nil {
		t.Fatalf("结束会话失败: %v", err)
	}
	if _, ok := m.ValidateToken(s.Token, testWallet); ok {
		t.Fatalf("terminated token must be invalid")
	}
	if err := m.Terminate(testWallet); apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNormalizeWallet(t *testing.T) {
	if _, err := NormalizeWallet("0x123"); err == nil {
		t.Fatalf("short hex address must be rejected")
	}
	if _, err := NormalizeWallet("  "); err == nil {
		t.Fatalf("empty wallet must be rejected")
	}
	if w, err := NormalizeWallet("Alice.ETH"); err != nil || w != "alice.eth" {
		t.Fatalf("named wallets are lowercased: %q %v", w, err)
	}
}

func assertSuperset(t *testing.T, bigger, smaller map[string][]string) {
	t.Helper()
	for group, keys := range smaller {
		have := make(map[string]bool)
		for _, k := range bigger[group] {
			have[k] = true
		}
		for _, k := range keys {
			if !have[k] {
				t.Fatalf("capability %s/%s lost: %v vs %v", group, k, bigger, smaller)
			}
		}
	}
}
