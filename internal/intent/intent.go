// Package intent resolves a free-text utterance into a single target endpoint
// through an ordered cascade: literal patterns, keyword maps, then the
// semantic matcher.
package intent

import (
	"strings"

	"OpenMCP-Intent/internal/semantic"
)

// Source records which tier of the cascade produced an intent.
type Source string

const (
	SourceLiteral  Source = "literal"
	SourceKeyword  Source = "keyword"
	SourceSemantic Source = "semantic"
)

// Intent is the resolved meaning of one utterance.
type Intent struct {
	Feature     string         `json:"feature"`
	Label       string         `json:"label,omitempty"`
	Constraints map[string]any `json:"constraints"`
	Role        string         `json:"role,omitempty"`
	Source      Source         `json:"source"`
	Rule        string         `json:"rule,omitempty"`
}

// MatchMetadata carries the semantic scoring details of a fallback match.
// It is kept apart from Constraints so scores never leak into call arguments.
type MatchMetadata struct {
	Key    string        `json:"key"`
	Score  float64       `json:"score"`
	Phrase string        `json:"phrase,omitempty"`
	Tier   semantic.Tier `json:"tier"`
}

// Resolution is the resolver output.
type Resolution struct {
	Intent Intent         `json:"intent"`
	Match  *MatchMetadata `json:"match,omitempty"`
}

// Args returns a copy of the intent constraints suitable as call arguments.
func (i Intent) Args() map[string]any {
	out := make(map[string]any, len(i.Constraints))
	for k, v := range i.Constraints {
		out[k] = v
	}
	return out
}

// SanitizeKey turns an endpoint key into an intent label.
func SanitizeKey(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(key)))
}
