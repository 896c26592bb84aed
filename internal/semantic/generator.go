// Package semantic 为缺少语义元数据的 endpoint 生成短语与标签，并将自由文本与目录中的短语、标签打分匹配。
package semantic

import (
	"regexp"
	"strings"

	"OpenMCP-Intent/internal/catalog"
)

const (
	// MaxPhrases 是生成短语数量上限。
	MaxPhrases = 15
	// MaxTags 是生成标签数量上限。
	MaxTags = 8
	// maxParamArgs 是参数化短语最多使用的参数个数。
	maxParamArgs = 2
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// 动词表：规范动词 -> 同义词（包含自身）。
var verbSynonyms = map[string][]string{
	"get":    {"get", "show", "check", "fetch"},
	"list":   {"list", "show", "see"},
	"send":   {"send", "transfer", "give"},
	"create": {"create", "make", "write", "add"},
	"play":   {"play", "start", "put on"},
	"delete": {"delete", "remove"},
	"update": {"update", "change", "edit"},
	"search": {"search", "find", "look up"},
	"count":  {"count", "how many"},
	"tell":   {"tell", "what is"},
	"read":   {"read", "show"},
	"anchor": {"anchor", "record"},
}

// 名词表：领域名词 -> 同义词。
var nounSynonyms = map[string][]string{
	"balance":      {"balance", "funds"},
	"message":      {"message", "text", "dm"},
	"messages":     {"messages", "texts", "inbox"},
	"note":         {"note", "memo"},
	"notes":        {"notes", "memos"},
	"payment":      {"payment", "money"},
	"music":        {"music", "song", "songs"},
	"playlists":    {"playlists", "mixes"},
	"time":         {"time", "clock"},
	"headlines":    {"headlines", "news"},
	"transactions": {"transactions", "transfers"},
	"summary":      {"summary", "overview"},
	"topic":        {"topic", "subject"},
	"events":       {"events", "calendar"},
	"entries":      {"entries", "records"},
}

// 动词在描述中可能出现的屈折形式。
var verbForms = map[string]string{
	"gets": "get", "shows": "get", "checks": "get", "check": "get", "fetch": "get", "fetches": "get", "show": "get",
	"lists": "list", "listing": "list",
	"sends": "send", "transfers": "send", "transfer": "send",
	"creates": "create", "make": "create", "makes": "create", "write": "create", "add": "create",
	"plays": "play", "start": "play",
	"deletes": "delete", "remove": "delete", "removes": "delete",
	"updates": "update", "change": "update", "edit": "update",
	"searches": "search", "find": "search", "finds": "search", "look": "search",
	"counts": "count",
	"tells": "tell", "explain": "tell", "explains": "tell",
	"reads": "read",
	"anchors": "anchor", "record": "anchor", "records": "anchor",
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true, "for": true,
	"from": true, "in": true, "on": true, "at": true, "by": true, "with": true, "into": true, "as": true,
	"is": true, "are": true, "be": true, "it": true, "its": true, "this": true, "that": true, "these": true,
	"your": true, "you": true, "my": true, "me": true, "i": true, "our": true, "their": true, "them": true,
	"all": true, "any": true, "some": true, "short": true, "current": true, "currently": true, "recent": true,
	"latest": true, "up": true, "please": true, "can": true, "will": true, "via": true, "using": true,
}

// Generator 根据描述与参数名生成语义元数据，满足 catalog.Enricher。
type Generator struct{}

// NewGenerator 创建生成器。
func NewGenerator() *Generator { return &Generator{} }

// Generate 生成不超过 MaxPhrases 条短语与 MaxTags 个标签。
func (g *Generator) Generate(description string, argNames []string) catalog.Semantics {
	keywords := Keywords(description)
	verb, nouns := classify(keywords)

	var phrases orderedSet
	var tags orderedSet

	if desc := strings.Join(Tokenize(description), " "); desc != "" {
		phrases.add(desc)
	}

	verbs := []string{}
	if verb != "" {
		verbs = verbSynonyms[verb]
		tags.add(verb)
	}
	for _, noun := range nouns {
		for _, syn := range expandNoun(noun) {
			tags.add(syn)
		}
	}
	for _, kw := range keywords {
		tags.add(kw)
	}

	if len(keywords) > 0 {
		phrases.add(strings.Join(keywords, " "))
	}
	if len(nouns) > 0 {
		head := nouns[0]
		lead := head
		if len(verbs) > 0 {
			lead = verbs[0] + " " + head
		}
		for i, arg := range argNames {
			if i >= maxParamArgs {
				break
			}
			if name := strings.TrimSpace(arg); name != "" {
				phrases.add(lead + " {" + name + "}")
			}
		}
		if len(nouns) > 1 {
			phrases.add(strings.Join(nouns, " "))
		}
		for _, v := range verbs {
			for _, n := range expandNoun(head) {
				phrases.add(v + " my " + n)
				phrases.add(v + " " + n)
			}
		}
	}

	return catalog.Semantics{
		Phrases: phrases.limit(MaxPhrases),
		Tags:    tags.limit(MaxTags),
	}
}

// Tokenize 将文本小写化并拆成字母数字词。
func Tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// Keywords 返回去除停用词后的词序列，保留原始顺序并去重。
func Keywords(text string) []string {
	var set orderedSet
	for _, tok := range Tokenize(text) {
		if stopWords[tok] || len(tok) < 2 {
			continue
		}
		set.add(tok)
	}
	return set.items
}

func classify(keywords []string) (string, []string) {
	verb := ""
	nouns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if verb == "" {
			if _, ok := verbSynonyms[kw]; ok {
				verb = kw
				continue
			}
			if canonical, ok := verbForms[kw]; ok {
				verb = canonical
				continue
			}
		}
		nouns = append(nouns, kw)
	}
	return verb, nouns
}

func expandNoun(noun string) []string {
	if syns, ok := nounSynonyms[noun]; ok {
		return syns
	}
	return []string{noun}
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *orderedSet) add(item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[item]; ok {
		return
	}
	s.seen[item] = struct{}{}
	s.items = append(s.items, item)
}

func (s *orderedSet) limit(n int) []string {
	if len(s.items) > n {
		return append([]string(nil), s.items[:n]...)
	}
	return append([]string(nil), s.items...)
}
