package intent

import (
	"context"
	"reflect"
	"testing"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/semantic"
)

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.New(catalog.WithEnricher(semantic.NewGenerator())).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("构建目录失败: %v", err)
	}
	return snap
}

func TestResolveCheckMyBalance(t *testing.T) {
	res, ok := NewResolver().Resolve("check my balance", "user", testSnapshot(t))
	if !ok {
		t.Fatalf("expected resolution")
	}
	if res.Intent.Feature != "wallet.balance.get" || res.Intent.Source != SourceLiteral {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if len(res.Intent.Constraints) != 0 {
		t.Fatalf("expected empty constraints, got %+v", res.Intent.Constraints)
	}
	if res.Intent.Label != "check_balance" {
		t.Fatalf("expected authored label, got %q", res.Intent.Label)
	}
	if res.Match != nil {
		t.Fatalf("literal match must not carry semantic metadata")
	}
}

func TestSpecificRuleShadowsEncyclopedia(t *testing.T) {
	r := NewResolver()
	snap := testSnapshot(t)

	res, ok := r.Resolve("What is the P3 protocol?", "user", snap)
	if !ok || res.Intent.Feature != "knowledge.topic.get" {
		t.Fatalf("expected knowledge topic, got %+v", res.Intent)
	}
	if res.Intent.Constraints["topic"] != "p3 protocol" {
		t.Fatalf("unexpected topic: %+v", res.Intent.Constraints)
	}

	res, ok = r.Resolve("what is a blockchain", "user", snap)
	if !ok || res.Intent.Feature != "knowledge.wikipedia.summary" || res.Intent.Constraints["query"] != "blockchain" {
		t.Fatalf("expected encyclopedia fallback, got %+v", res.Intent)
	}
}

func TestRuleOrderIsFirstMatch(t *testing.T) {
	r := NewResolver()
	inputs := []string{
		"what is the p3 protocol",
		"what is openmcp",
		"check my balance",
		"pay bob 150",
		"send alice a message saying hi",
		"play some music",
		"write a note about groceries",
	}
	for _, input := range inputs {
		normalized := Normalize(input)
		first := ""
		for _, rule := range r.Rules() {
			if rule.Pattern.MatchString(normalized) {
				first = rule.Target
				break
			}
		}
		res, ok := r.Resolve(input, "user", nil)
		if !ok || res.Intent.Feature != first {
			t.Fatalf("%q: resolver chose %q, first matching rule targets %q", input, res.Intent.Feature, first)
		}
	}
}

func TestEncyclopediaRuleIsLast(t *testing.T) {
	rules := DefaultRules()
	if rules[len(rules)-1].Target != "knowledge.wikipedia.summary" {
		t.Fatalf("generic catch-all must be the last literal rule")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver()
	snap := testSnapshot(t)
	for _, input := range []string{"check my balance", "transfer money", "pay bob 150 usd", "show my last 5 notes"} {
		first, ok1 := r.Resolve(input, "user", snap)
		for i := 0; i < 20; i++ {
			again, ok2 := r.Resolve(input, "user", snap)
			if ok1 != ok2 || !reflect.DeepEqual(first, again) {
				t.Fatalf("%q resolved differently: %+v vs %+v", input, first, again)
			}
		}
	}
}

func TestResolvePayment(t *testing.T) {
	res, ok := NewResolver().Resolve("pay bob 150", "user", testSnapshot(t))
	if !ok || res.Intent.Feature != "payments.send" {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if res.Intent.Constraints["recipient"] != "bob" || res.Intent.Constraints["amount"] != 150.0 {
		t.Fatalf("unexpected constraints: %+v", res.Intent.Constraints)
	}
	if _, ok := res.Intent.Constraints["currency"]; ok {
		t.Fatalf("currency must only be set when spoken")
	}
}

func TestKeywordMapsRespectRoles(t *testing.T) {
	r := NewResolver(WithMatcher(nil))
	snap := testSnapshot(t)
	res, ok := r.Resolve("reload catalog now", "admin", snap)
	if !ok || res.Intent.Feature != "admin.catalog.reload" || res.Intent.Source != SourceKeyword {
		t.Fatalf("admin should reach the reload keyword: %+v %v", res.Intent, ok)
	}
	if res, ok := r.Resolve("reload catalog now", "user", snap); ok {
		t.Fatalf("non-admin must not resolve through the role-gated keyword: %+v", res.Intent)
	}
}

func TestKeywordTierMergesMinedConstraints(t *testing.T) {
	res, ok := NewResolver().Resolve("show me the top 3 playlist picks", "user", testSnapshot(t))
	if !ok || res.Intent.Feature != "spotify.playlists.list" {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if res.Intent.Constraints["limit"] != 3 {
		t.Fatalf("expected mined limit, got %+v", res.Intent.Constraints)
	}
}

func TestSemanticFallbackKeepsMetadataSeparate(t *testing.T) {
	res, ok := NewResolver().Resolve("transfer money", "user", testSnapshot(t))
	if !ok {
		t.Fatalf("expected semantic resolution")
	}
	if res.Intent.Source != SourceSemantic || res.Intent.Feature != "payments.send" {
		t.Fatalf("unexpected intent: %+v", res.Intent)
	}
	if res.Match == nil || res.Match.Score <= semantic.AcceptThreshold {
		t.Fatalf("expected match metadata above threshold: %+v", res.Match)
	}
	for key := range res.Intent.Constraints {
		if key == "score" || key == "matched_key" {
			t.Fatalf("scoring leaked into constraints: %+v", res.Intent.Constraints)
		}
	}
	if res.Intent.Label != "send_payment" {
		t.Fatalf("expected authored intent label, got %q", res.Intent.Label)
	}
}

func TestUnresolvable(t *testing.T) {
	if res, ok := NewResolver().Resolve("flibbertigibbet wobble", "user", testSnapshot(t)); ok {
		t.Fatalf("expected no resolution, got %+v", res.Intent)
	}
	if _, ok := NewResolver().Resolve("   ", "user", nil); ok {
		t.Fatalf("empty input must not resolve")
	}
}

func TestMineConstraints(t *testing.T) {
	got := MineConstraints("send $25.5 to 0x52908400098527886E0F7030069857D2E4169EE7 tomorrow, last 4")
	if got["amount"] != 25.5 {
		t.Fatalf("unexpected amount: %+v", got)
	}
	if got["address"] != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Fatalf("unexpected address: %+v", got)
	}
	if got["time_range"] != "tomorrow" || got["limit"] != 4 {
		t.Fatalf("unexpected time/limit: %+v", got)
	}
	if len(MineConstraints("check my balance")) != 0 {
		t.Fatalf("plain request must not mine constraints")
	}
}
