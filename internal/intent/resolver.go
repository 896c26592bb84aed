package intent

import (
	"regexp"
	"strings"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/semantic"
)

var (
	politePrefix = regexp.MustCompile(`^(?:please|hey|ok|okay|can you|could you|would you|i want to|i'd like to)\s+`)
	politeSuffix = regexp.MustCompile(`[,\s]+please$`)
)

// Resolver runs the three-tier cascade. It never fails: a miss is reported
// through the boolean result.
type Resolver struct {
	rules    []Rule
	keywords []KeywordMap
	matcher  *semantic.Matcher
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRules replaces the literal rule list.
func WithRules(rules []Rule) Option {
	return func(r *Resolver) { r.rules = rules }
}

// WithKeywordMaps replaces the keyword routing table.
func WithKeywordMaps(maps []KeywordMap) Option {
	return func(r *Resolver) { r.keywords = maps }
}

// WithMatcher replaces the semantic matcher; nil disables the fallback tier.
func WithMatcher(m *semantic.Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// NewResolver builds a resolver with the default tables.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		rules:    DefaultRules(),
		keywords: DefaultKeywordMaps(),
		matcher:  semantic.NewMatcher(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns the literal rules in evaluation order.
func (r *Resolver) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Normalize lowercases the utterance, collapses whitespace and strips
// politeness wrappers and trailing punctuation.
func Normalize(text string) string {
	s := strings.ToLower(strings.Join(strings.Fields(text), " "))
	s = strings.TrimRight(s, ".!")
	s = politeSuffix.ReplaceAllString(s, "")
	for {
		trimmed := politePrefix.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.TrimSpace(s)
}

// Resolve maps text to an intent against the given snapshot. Targets absent
// from the snapshot are skipped; a nil snapshot disables that check and the
// semantic tier.
func (r *Resolver) Resolve(text, role string, snap *catalog.Snapshot) (Resolution, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return Resolution{}, false
	}
	mined := MineConstraints(normalized)

	for _, rule := range r.rules {
		if snap != nil && !snap.Has(rule.Target) {
			continue
		}
		m := rule.Pattern.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		var extracted map[string]any
		if rule.Extract != nil {
			extracted = rule.Extract(m)
		}
		return Resolution{Intent: Intent{
			Feature:     rule.Target,
			Label:       labelFor(rule.Target, snap),
			Constraints: merge(mined, extracted),
			Role:        role,
			Source:      SourceLiteral,
			Rule:        rule.Name,
		}}, true
	}

	for _, km := range r.keywords {
		if !km.allows(role) {
			continue
		}
		if snap != nil && !snap.Has(km.Target) {
			continue
		}
		for _, kw := range km.Keywords {
			if strings.Contains(normalized, kw) {
				return Resolution{Intent: Intent{
					Feature:     km.Target,
					Label:       labelFor(km.Target, snap),
					Constraints: merge(mined, nil),
					Role:        role,
					Source:      SourceKeyword,
					Rule:        kw,
				}}, true
			}
		}
	}

	if r.matcher == nil || snap == nil {
		return Resolution{}, false
	}
	endpoints := snap.Endpoints()
	match, ok := r.matcher.Best(normalized, endpoints)
	if !ok {
		return Resolution{}, false
	}
	ep := endpoints[match.Key]
	extracted := semantic.ExtractArgs(normalized, match.Phrase, ep.Args.Names())
	return Resolution{
		Intent: Intent{
			Feature:     match.Key,
			Label:       labelFor(match.Key, snap),
			Constraints: merge(mined, extracted),
			Role:        role,
			Source:      SourceSemantic,
		},
		Match: &MatchMetadata{Key: match.Key, Score: match.Score, Phrase: match.Phrase, Tier: match.Tier},
	}, true
}

func labelFor(key string, snap *catalog.Snapshot) string {
	if snap != nil {
		if ep, ok := snap.Lookup(key); ok && !ep.Generated && len(ep.Semantics.Intents) > 0 {
			return ep.Semantics.Intents[0]
		}
	}
	return SanitizeKey(key)
}

func merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
