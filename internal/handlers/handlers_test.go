package handlers

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/knowledge"
	"OpenMCP-Intent/internal/session"
	"OpenMCP-Intent/internal/storage"
	"OpenMCP-Intent/internal/vault"
	"OpenMCP-Intent/internal/web3"
)

const testWallet = "0x52908400098527886e0f7030069857d2e4169ee7"

type fakeChain struct {
	balance *big.Int
	nonce   uint64
	asked   []string
}

func (f *fakeChain) DefaultClient() (web3.Client, error) { return f, nil }
func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: "test"}, nil
}
func (f *fakeChain) Balance(_ context.Context, addr string) (*big.Int, error) {
	f.asked = append(f.asked, addr)
	return f.balance, nil
}
func (f *fakeChain) TransactionCount(_ context.Context, addr string) (uint64, error) {
	f.asked = append(f.asked, addr)
	return f.nonce, nil
}
func (f *fakeChain) Close() {}

type fixture struct {
	exec  *executor.Executor
	snap  *catalog.Snapshot
	store *storage.MemoryStore
	vault *vault.Vault
	chain *fakeChain
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snap, err := catalog.New().Snapshot(context.Background())
	if err != nil {
		t.Fatalf("构建目录失败: %v", err)
	}
	sealer, err := vault.NewSealer("master-secret")
	if err != nil {
		t.Fatalf("创建密封器失败: %v", err)
	}
	f := &fixture{
		snap:  snap,
		store: storage.NewMemoryStore(),
		vault: vault.New(sealer, vault.NewMemoryStore()),
		chain: &fakeChain{balance: new(big.Int).Mul(big.NewInt(125), big.NewInt(1e16)), nonce: 7},
		now:   time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	ids := 0
	tables := Tables(Deps{
		Chains:    f.chain,
		Store:     f.store,
		Vault:     f.vault,
		Knowledge: knowledge.NewStaticProvider(knowledge.DefaultSnippets(), 3),
		Reload:    func(context.Context) (int, error) { return len(snap.Keys()), nil },
		Clock:     func() time.Time { return f.now },
		NewID: func() string {
			ids++
			return "id-" + string(rune('0'+ids))
		},
	})
	f.exec = executor.New(tables, governance.NewGate(governance.Config{}))
	return f
}

func (f *fixture) run(t *testing.T, sess session.Session, key string, args map[string]any) (executor.Result, error) {
	t.Helper()
	return f.exec.Execute(context.Background(), sess, flow.Step{Endpoint: key, Args: args}, f.snap)
}

func grantedSession(scopes ...string) session.Session {
	return session.Session{
		Wallet:    testWallet,
		Roles:     []string{"user"},
		Grants:    scopes,
		ExpiresAt: time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC),
	}
}

func TestWalletBalanceFallsBackToSessionWallet(t *testing.T) {
	f := newFixture(t)
	res, err := f.run(t, grantedSession("wallet"), "wallet.balance.get", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != executor.StatusOK || res.Message != "Your balance is 1.2500 ETH" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.chain.asked) != 1 || !strings.EqualFold(f.chain.asked[0], testWallet) {
		t.Fatalf("balance must be read for the session wallet: %v", f.chain.asked)
	}

	res, err = f.run(t, grantedSession("wallet"), "wallet.transactions.count", nil)
	if err != nil || !strings.HasSuffix(res.Message, "has sent 7 transactions") {
		t.Fatalf("unexpected count result: %+v %v", res, err)
	}

	_, err = f.run(t, grantedSession("wallet"), "wallet.balance.get", map[string]any{"address": "not-an-address"})
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) || !reflect.DeepEqual(validation.Invalid, []string{"address"}) {
		t.Fatalf("expected address validation error, got %v", err)
	}
}

func TestWalletWithoutChainIsExecutionError(t *testing.T) {
	snap, _ := catalog.New().Snapshot(context.Background())
	e := executor.New(Tables(Deps{}), nil)
	_, err := e.Execute(context.Background(), grantedSession("wallet"), flow.Step{Endpoint: "wallet.balance.get"}, snap)
	if apperrors.CodeOf(err) != apperrors.CodeExecutionFailed {
		t.Fatalf("expected execution failure, got %v", err)
	}
}

func TestMessagesAndNotes(t *testing.T) {
	f := newFixture(t)
	sess := grantedSession("messages", "notes")

	res, err := f.run(t, sess, "messages.send", map[string]any{"recipient": "alice", "body": "lunch?"})
	if err != nil || res.Message != "Message sent to alice" {
		t.Fatalf("unexpected send result: %+v %v", res, err)
	}
	res, err = f.run(t, sess, "messages.list", map[string]any{"limit": 5})
	if err != nil || res.Message != `You have 1 message. The latest went to alice: "lunch?"` {
		t.Fatalf("unexpected list result: %+v %v", res, err)
	}
	res, err = f.run(t, sess, "messages.send", map[string]any{"recipient": "alice"})
	if err != nil || !strings.Contains(res.Message, "empty message") {
		t.Fatalf("a message without body is still sent: %+v %v", res, err)
	}
	_, err = f.run(t, sess, "messages.send", map[string]any{"body": "hi"})
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) || !reflect.DeepEqual(validation.Invalid, []string{"recipient"}) {
		t.Fatalf("missing recipient must be a validation error, got %v", err)
	}

	res, err = f.run(t, sess, "notes.create", map[string]any{"body": "buy milk", "tags": []any{"errands", 3, " home "}})
	if err != nil || res.Message != `Saved note "buy milk"` {
		t.Fatalf("unexpected note result: %+v %v", res, err)
	}
	notes, _ := f.store.ListNotes(context.Background(), testWallet, 10)
	if len(notes) != 1 || !reflect.DeepEqual(notes[0].Tags, []string{"errands", "home"}) {
		t.Fatalf("unexpected stored notes: %+v", notes)
	}
}

func TestLedgerAnchorRecordsPendingEntry(t *testing.T) {
	f := newFixture(t)
	sess := grantedSession("notes", "ledger", "wallet")

	_, err := f.run(t, sess, "ledger.anchor", nil)
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("anchoring without notes must fail validation, got %v", err)
	}

	if _, err := f.run(t, sess, "notes.create", map[string]any{"title": "plan", "body": "ship it"}); err != nil {
		t.Fatalf("create note: %v", err)
	}
	res, err := f.run(t, sess, "ledger.anchor", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != executor.StatusAuthorizationRequired || res.Message != "ledger.anchor requires wallet signature" {
		t.Fatalf("unexpected anchor result: %+v", res)
	}
	if res.Authorization == nil || res.Authorization.Kind != KindWalletSignature || res.Authorization.Data["note_id"] != "id-1" {
		t.Fatalf("unexpected authorization: %+v", res.Authorization)
	}

	res, err = f.run(t, sess, "ledger.entries.list", nil)
	if err != nil || res.Message != "You have 1 ledger entries, 1 pending anchoring" {
		t.Fatalf("unexpected ledger list: %+v %v", res, err)
	}

	_, err = f.run(t, sess, "ledger.anchor", map[string]any{"note_id": "missing"})
	if apperrors.CodeOf(err) != apperrors.CodeExecutionFailed {
		t.Fatalf("unknown note must fail execution, got %v", err)
	}
}

func TestPaymentRequiresSignature(t *testing.T) {
	f := newFixture(t)
	res, err := f.run(t, grantedSession("payments", "wallet"), "payments.send", map[string]any{"recipient": "bob", "amount": "20"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != "payments.send requires wallet signature" || res.Authorization.Data["currency"] != "ETH" || res.Authorization.Data["amount"] != 20.0 {
		t.Fatalf("unexpected payment result: %+v", res)
	}
	_, err = f.run(t, grantedSession("payments", "wallet"), "payments.send", map[string]any{"recipient": "bob", "amount": -1})
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) || validation.Invalid[0] != "amount" {
		t.Fatalf("negative amount must fail validation, got %v", err)
	}
}

func TestSpotifyReportsStoredCredential(t *testing.T) {
	f := newFixture(t)
	sess := grantedSession("music")
	res, err := f.run(t, sess, "spotify.playback.play", map[string]any{"query": "jazz"})
	if err != nil || res.Message != "spotify.playback.play requires OAuth" || res.Authorization.Data["connected"] != false {
		t.Fatalf("unexpected oauth result: %+v %v", res, err)
	}
	if err := f.vault.Save(context.Background(), testWallet, "spotify", map[string]string{"access_token": "t"}); err != nil {
		t.Fatalf("save credential: %v", err)
	}
	res, err = f.run(t, sess, "spotify.playlists.list", nil)
	if err != nil || res.Authorization.Data["connected"] != true || res.Authorization.Provider != "spotify" {
		t.Fatalf("stored credential must be reported: %+v %v", res, err)
	}
}

func TestDirectHandlers(t *testing.T) {
	f := newFixture(t)
	sess := grantedSession("profile", "knowledge", "search")

	res, err := f.run(t, sess, "system.time.now", map[string]any{"timezone": "UTC"})
	if err != nil || res.Message != "It is 09:30 on Monday, March 2 in UTC" {
		t.Fatalf("unexpected time: %+v %v", res, err)
	}
	_, err = f.run(t, sess, "system.time.now", map[string]any{"timezone": "Mars/Olympus"})
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("unknown timezone must fail validation, got %v", err)
	}

	res, err = f.run(t, sess, "system.session.get", nil)
	if err != nil || !strings.Contains(res.Message, "with 3 scopes, expiring in 24h0m0s") {
		t.Fatalf("unexpected session info: %+v %v", res, err)
	}

	res, err = f.run(t, sess, "knowledge.topic.get", map[string]any{"topic": "openmcp"})
	if err != nil || res.Message == "" || res.Data["snippets"] == nil {
		t.Fatalf("unexpected knowledge result: %+v %v", res, err)
	}
	res, err = f.run(t, sess, "knowledge.topic.get", map[string]any{"topic": "zzz-unknown"})
	if err != nil || res.Message != "I don't have anything on zzz-unknown yet" {
		t.Fatalf("unexpected empty knowledge result: %+v %v", res, err)
	}

	_, err = f.run(t, sess, "knowledge.wikipedia.summary", map[string]any{"query": "go"})
	if apperrors.CodeOf(err) != apperrors.CodeExecutionFailed {
		t.Fatalf("missing fetcher must be an execution failure, got %v", err)
	}
}

func TestAdminReloadAndNotImplemented(t *testing.T) {
	f := newFixture(t)
	admin := grantedSession("admin", "news")
	admin.Roles = []string{"admin"}
	res, err := f.run(t, admin, "admin.catalog.reload", nil)
	if err != nil || !strings.HasPrefix(res.Message, "Catalog reloaded with ") {
		t.Fatalf("unexpected reload result: %+v %v", res, err)
	}
	res, err = f.run(t, admin, "news.headlines.get", nil)
	if err != nil || res.Status != executor.StatusNotImplemented {
		t.Fatalf("news must report not_implemented: %+v %v", res, err)
	}
}
