package catalog

import (
	"regexp"
	"strings"
)

// QueryKind 是自然语言元查询的类别。
type QueryKind string

const (
	QueryDescribe  QueryKind = "describe"
	QuerySearch    QueryKind = "search"
	QueryScope     QueryKind = "scope"
	QueryGroup     QueryKind = "group"
	QueryTemplates QueryKind = "templates"
	QueryList      QueryKind = "list"
)

// MetaQuery 是解析后的目录元查询。
type MetaQuery struct {
	Kind QueryKind `json:"kind"`
	Arg  string    `json:"arg,omitempty"`
}

type queryRule struct {
	pattern *regexp.Regexp
	kind    QueryKind
}

// 顺序即优先级：先匹配带参数的具体形式，最后才是无参数的列表。
var queryRules = []queryRule{
	{regexp.MustCompile(`^(?:describe|explain|show)\s+(?:endpoint\s+)?([\w.\-]+)$`), QueryDescribe},
	{regexp.MustCompile(`^what does\s+([\w.\-]+)\s+do\??$`), QueryDescribe},
	{regexp.MustCompile(`^(?:search|find)\s+(?:for\s+)?(.+)$`), QuerySearch},
	{regexp.MustCompile(`^(?:scope|endpoints? (?:with|needing|requiring) scope)\s+([\w\-]+)$`), QueryScope},
	{regexp.MustCompile(`^what needs(?: the)?\s+([\w\-]+)\s+scope\??$`), QueryScope},
	{regexp.MustCompile(`^(?:group|app)\s+([\w\-]+)$`), QueryGroup},
	{regexp.MustCompile(`^(?:list\s+)?(?:templates|flows|compound flows)$`), QueryTemplates},
	{regexp.MustCompile(`^(?:list|list all|list endpoints|list all endpoints|endpoints)$`), QueryList},
}

// ParseMetaQuery 将 "describe X"、"search Y"、"scope Z" 等文本映射为目录操作。
func ParseMetaQuery(text string) (MetaQuery, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	normalized = strings.TrimRight(normalized, ".!")
	if normalized == "" {
		return MetaQuery{}, false
	}
	for _, rule := range queryRules {
		m := rule.pattern.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		q := MetaQuery{Kind: rule.kind}
		if len(m) > 1 {
			q.Arg = strings.TrimSpace(m[1])
		}
		return q, true
	}
	return MetaQuery{}, false
}

// QueryResult 是元查询的结果。模板类查询由调用方补充模板列表。
type QueryResult struct {
	Query     MetaQuery  `json:"query"`
	Endpoint  *Endpoint  `json:"endpoint,omitempty"`
	Endpoints []Endpoint `json:"endpoints,omitempty"`
	Found     bool       `json:"found"`
}

// Answer 在快照上执行元查询。
func (s *Snapshot) Answer(q MetaQuery) QueryResult {
	result := QueryResult{Query: q}
	switch q.Kind {
	case QueryDescribe:
		if ep, ok := s.Lookup(q.Arg); ok {
			result.Endpoint = &ep
			result.Found = true
		}
	case QuerySearch:
		result.Endpoints = s.Search(q.Arg)
	case QueryScope:
		result.Endpoints = s.ListByScope(q.Arg)
	case QueryGroup:
		result.Endpoints = s.ListByGroup(q.Arg)
	case QueryList:
		result.Endpoints = s.All()
	case QueryTemplates:
		result.Found = true
	}
	if len(result.Endpoints) > 0 {
		result.Found = true
	}
	return result
}
