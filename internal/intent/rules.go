package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule is one literal pattern. Rules are evaluated in slice order and the
// first match wins, so specific patterns must come before general ones.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Target  string
	Extract func(m []string) map[string]any
}

// KeywordMap routes a message to a target when any keyword appears in it.
// When Roles is set the caller's role must be one of them.
type KeywordMap struct {
	Keywords []string
	Target   string
	Roles    []string
}

func (k KeywordMap) allows(role string) bool {
	if len(k.Roles) == 0 {
		return true
	}
	for _, r := range k.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func noArgs([]string) map[string]any { return map[string]any{} }

func captureAs(name string, group int) func([]string) map[string]any {
	return func(m []string) map[string]any {
		out := map[string]any{}
		if group < len(m) {
			if v := strings.TrimSpace(m[group]); v != "" {
				out[name] = v
			}
		}
		return out
	}
}

// KnowledgeTopics lists the topics answered by the knowledge-topic endpoint.
var KnowledgeTopics = []string{
	"p3 protocol", "p3", "openmcp", "mcp", "capability catalog", "capability groups",
	"scopes", "review gate", "credential vault", "compound flows",
}

func topicAlternation() string {
	quoted := make([]string, len(KnowledgeTopics))
	for i, t := range KnowledgeTopics {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return strings.Join(quoted, "|")
}

// DefaultRules returns the ordered literal rule list. The generic
// encyclopedia rule is last so it never shadows a specific question.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "knowledge-topic",
			Pattern: regexp.MustCompile(`^(?:what is|what's|what are|tell me about|explain) (?:the |a )?(` + topicAlternation() + `)\??$`),
			Target:  "knowledge.topic.get",
			Extract: captureAs("topic", 1),
		},
		{
			Name:    "balance-of-address",
			Pattern: regexp.MustCompile(`^(?:check |show |get |what is |what's )?(?:the )?balance (?:of|for) (0x[0-9a-fA-F]{40})\??$`),
			Target:  "wallet.balance.get",
			Extract: captureAs("address", 1),
		},
		{
			Name:    "balance",
			Pattern: regexp.MustCompile(`^(?:(?:check|show|get) (?:my )?(?:wallet )?balance|what(?:'s| is) my (?:wallet )?balance|how much (?:eth |money )?do i have|my balance)\??$`),
			Target:  "wallet.balance.get",
			Extract: noArgs,
		},
		{
			Name:    "transaction-count",
			Pattern: regexp.MustCompile(`^how many transactions(?: have i (?:sent|made))?\??$`),
			Target:  "wallet.transactions.count",
			Extract: noArgs,
		},
		{
			Name:    "payment",
			Pattern: regexp.MustCompile(`^(?:pay|send) (\w+) \$?(\d+(?:\.\d+)?)(?: ?(eth|usd|usdc|dollars?))?$`),
			Target:  "payments.send",
			Extract: func(m []string) map[string]any {
				out := map[string]any{"recipient": m[1]}
				if amount, err := strconv.ParseFloat(m[2], 64); err == nil {
					out["amount"] = amount
				}
				if currency := normalizeCurrency(m[3]); currency != "" {
					out["currency"] = currency
				}
				return out
			},
		},
		{
			Name:    "send-message",
			Pattern: regexp.MustCompile(`^send (\w+) a (?:message|text|note)(?: (?:saying|that says) (.+))?$`),
			Target:  "messages.send",
			Extract: messageArgs,
		},
		{
			Name:    "text-contact",
			Pattern: regexp.MustCompile(`^(?:text|message) (\w+)(?: (?:saying|that) (.+))?$`),
			Target:  "messages.send",
			Extract: messageArgs,
		},
		{
			Name:    "list-messages",
			Pattern: regexp.MustCompile(`^(?:show|list|read|check) (?:my )?(?:messages|inbox)$`),
			Target:  "messages.list",
			Extract: noArgs,
		},
		{
			Name:    "list-playlists",
			Pattern: regexp.MustCompile(`^(?:show|list) (?:my )?(?:spotify )?playlists$`),
			Target:  "spotify.playlists.list",
			Extract: noArgs,
		},
		{
			Name:    "play",
			Pattern: regexp.MustCompile(`^(?:play|put on) (.+?)(?: on spotify)?$`),
			Target:  "spotify.playback.play",
			Extract: captureAs("query", 1),
		},
		{
			Name:    "create-note",
			Pattern: regexp.MustCompile(`^(?:write|take|create|make) (?:a )?note(?: (?:saying|about|that says) (.+))?$`),
			Target:  "notes.create",
			Extract: func(m []string) map[string]any {
				out := map[string]any{}
				if body := strings.TrimSpace(m[1]); body != "" {
					out["body"] = body
					out["title"] = noteTitle(body)
				}
				return out
			},
		},
		{
			Name:    "list-notes",
			Pattern: regexp.MustCompile(`^(?:show|list) (?:my )?notes$`),
			Target:  "notes.list",
			Extract: noArgs,
		},
		{
			Name:    "anchor",
			Pattern: regexp.MustCompile(`^anchor (?:it|that|(?:note )?([\w\-]+))(?: on(?: the)? ?chain)?$`),
			Target:  "ledger.anchor",
			Extract: captureAs("note_id", 1),
		},
		{
			Name:    "ledger-entries",
			Pattern: regexp.MustCompile(`^(?:show|list) (?:my )?ledger(?: entries)?$`),
			Target:  "ledger.entries.list",
			Extract: noArgs,
		},
		{
			Name:    "time",
			Pattern: regexp.MustCompile(`^(?:what time is it|what's the time|current time|tell me the time)(?: in ([\w/]+))?\??$`),
			Target:  "system.time.now",
			Extract: captureAs("timezone", 1),
		},
		{
			Name:    "session",
			Pattern: regexp.MustCompile(`^(?:show (?:my )?(?:session|permissions)|what can i do)\??$`),
			Target:  "system.session.get",
			Extract: noArgs,
		},
		{
			Name:    "news",
			Pattern: regexp.MustCompile(`^(?:show |read |get )?(?:me )?(?:the )?(?:latest )?(?:news|headlines)(?: about (.+))?$`),
			Target:  "news.headlines.get",
			Extract: captureAs("topic", 1),
		},
		{
			Name:    "encyclopedia",
			Pattern: regexp.MustCompile(`^(?:what|who) (?:is|are|was|were) (?:a |an |the )?(.+?)\??$`),
			Target:  "knowledge.wikipedia.summary",
			Extract: captureAs("query", 1),
		},
	}
}

// DefaultKeywordMaps returns the keyword routing table.
func DefaultKeywordMaps() []KeywordMap {
	return []KeywordMap{
		{Keywords: []string{"reload catalog", "refresh catalog", "rebuild catalog"}, Target: "admin.catalog.reload", Roles: []string{"admin"}},
		{Keywords: []string{"balance", "funds"}, Target: "wallet.balance.get"},
		{Keywords: []string{"playlist"}, Target: "spotify.playlists.list"},
		{Keywords: []string{"music", "song", "spotify"}, Target: "spotify.playback.play"},
		{Keywords: []string{"inbox", "messages"}, Target: "messages.list"},
		{Keywords: []string{"ledger"}, Target: "ledger.entries.list"},
		{Keywords: []string{"notes"}, Target: "notes.list"},
		{Keywords: []string{"headline", "news"}, Target: "news.headlines.get"},
		{Keywords: []string{"what time", "clock"}, Target: "system.time.now"},
	}
}

func messageArgs(m []string) map[string]any {
	out := map[string]any{"recipient": m[1]}
	if len(m) > 2 {
		if body := strings.TrimSpace(m[2]); body != "" {
			out["body"] = body
		}
	}
	return out
}

func normalizeCurrency(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "dollar", "dollars", "usd":
		return "USD"
	default:
		return strings.ToUpper(raw)
	}
}

func noteTitle(body string) string {
	words := strings.Fields(body)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
