package semantic

import (
	"regexp"
	"sort"
	"strings"

	"OpenMCP-Intent/internal/catalog"
)

// AcceptThreshold 是语义匹配被接受的最低分（不含）。
const AcceptThreshold = 0.5

// Tier 标识得分来源。
type Tier string

const (
	TierPhrase  Tier = "phrase"
	TierOverlap Tier = "overlap"
	TierTags    Tier = "tags"
)

const (
	phraseBaseScore = 2.0
	overlapMinRatio = 0.8
	tagWeight       = 0.3
	tagKeyBonus     = 0.1
	tagScoreCap     = 0.95
)

var placeholderPattern = regexp.MustCompile(`\{[^}]*\}`)

// Result 是单个 endpoint 的最佳得分。
type Result struct {
	Key    string  `json:"key"`
	Score  float64 `json:"score"`
	Phrase string  `json:"phrase,omitempty"`
	Tier   Tier    `json:"tier"`
}

// Matcher 对查询与目录中每个 endpoint 的短语、标签打分。
type Matcher struct {
	threshold float64
}

// NewMatcher 创建使用默认阈值的匹配器。
func NewMatcher() *Matcher {
	return &Matcher{threshold: AcceptThreshold}
}

// Best 返回得分最高且超过阈值的 endpoint。
func (m *Matcher) Best(query string, endpoints map[string]catalog.Endpoint) (Result, bool) {
	ranked := m.Rank(query, endpoints)
	if len(ranked) == 0 || ranked[0].Score <= m.threshold {
		return Result{}, false
	}
	return ranked[0], true
}

// Rank 返回所有得分大于零的 endpoint，按分数降序，同分时短语更长者优先，再按键排序。
func (m *Matcher) Rank(query string, endpoints map[string]catalog.Endpoint) []Result {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	normalized := strings.Join(tokens, " ")

	out := make([]Result, 0)
	for key, ep := range endpoints {
		if res, ok := scoreEndpoint(normalized, tokens, key, ep.Semantics); ok {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if len(out[i].Phrase) != len(out[j].Phrase) {
			return len(out[i].Phrase) > len(out[j].Phrase)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func scoreEndpoint(query string, tokens []string, key string, sem catalog.Semantics) (Result, bool) {
	best := Result{Key: key}
	found := false
	consider := func(r Result) {
		if !found || r.Score > best.Score || (r.Score == best.Score && len(r.Phrase) > len(best.Phrase)) {
			best = r
			found = true
		}
	}

	padded := " " + query + " "
	querySet := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		querySet[tok] = struct{}{}
	}

	for _, phrase := range sem.Phrases {
		cleaned := CleanPhrase(phrase)
		if cleaned == "" {
			continue
		}
		if strings.Contains(padded, " "+cleaned+" ") {
			ratio := float64(len(cleaned)) / float64(len(query))
			if ratio > 1 {
				ratio = 1
			}
			consider(Result{Key: key, Score: phraseBaseScore + ratio, Phrase: phrase, Tier: TierPhrase})
			continue
		}
		if score, ok := overlapScore(strings.Fields(cleaned), tokens, querySet); ok {
			consider(Result{Key: key, Score: score, Phrase: phrase, Tier: TierOverlap})
		}
	}

	if score, ok := tagScore(key, sem.Tags, querySet); ok {
		consider(Result{Key: key, Score: score, Tier: TierTags})
	}
	return best, found
}

func overlapScore(phraseTokens []string, queryTokens []string, querySet map[string]struct{}) (float64, bool) {
	if len(phraseTokens) == 0 {
		return 0, false
	}
	exact := 0
	var weight float64
	for _, pt := range phraseTokens {
		if _, ok := querySet[pt]; ok {
			exact++
			weight += 1
			continue
		}
		for _, qt := range queryTokens {
			if len(qt) >= 3 && len(pt) >= 3 && (strings.Contains(qt, pt) || strings.Contains(pt, qt)) {
				weight += 0.5
				break
			}
		}
	}
	ratio := weight / float64(len(phraseTokens))
	if ratio < overlapMinRatio || exact == 0 {
		return 0, false
	}
	return ratio, true
}

func tagScore(key string, tags []string, querySet map[string]struct{}) (float64, bool) {
	matched := 0
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if _, ok := querySet[tag]; ok {
			matched++
		}
	}
	if matched < 2 {
		return 0, false
	}
	score := tagWeight * float64(matched)
	for _, segment := range strings.Split(strings.ToLower(key), ".") {
		if _, ok := querySet[segment]; ok {
			score += tagKeyBonus
			break
		}
	}
	if score > tagScoreCap {
		score = tagScoreCap
	}
	return score, true
}

// CleanPhrase 去掉占位符并规整空白与大小写。
func CleanPhrase(phrase string) string {
	stripped := placeholderPattern.ReplaceAllString(phrase, " ")
	return strings.Join(Tokenize(stripped), " ")
}
