package flow

import (
	"regexp"
	"strconv"
	"strings"
)

// Template 是预先编写的复合意图：一个正则对应一组有序的目标 endpoint。
type Template struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Pattern     *regexp.Regexp `json:"-"`
	Targets     []string       `json:"targets"`
	// Args 根据匹配结果为每个目标生成参数，返回值长度与 Targets 一致。
	Args func(m []string) []map[string]any `json:"-"`
}

// Expression 返回模板的正则文本。
func (t Template) Expression() string {
	if t.Pattern == nil {
		return ""
	}
	return t.Pattern.String()
}

// DefaultTemplates 返回内置复合模板，按优先级排序。
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:        "morning-briefing",
			Description: "Current time, wallet balance and inbox in one go",
			Pattern:     regexp.MustCompile(`^(?:give me )?(?:my )?morning briefing$`),
			Targets:     []string{"system.time.now", "wallet.balance.get", "messages.list"},
			Args: func([]string) []map[string]any {
				return []map[string]any{{}, {}, {"limit": 5}}
			},
		},
		{
			Name:        "note-and-anchor",
			Description: "Write a note and anchor it on chain",
			Pattern:     regexp.MustCompile(`(?:write|take|create|compose) (?:a )?note (?:saying |about )?(.+?) and (?:then )?anchor (?:it|that)`),
			Targets:     []string{"notes.create", "ledger.anchor"},
			Args: func(m []string) []map[string]any {
				body := strings.TrimSpace(m[1])
				return []map[string]any{{"title": titleOf(body), "body": body}, {}}
			},
		},
		{
			Name:        "balance-then-pay",
			Description: "Check the balance, then pay someone",
			Pattern:     regexp.MustCompile(`check (?:my )?balance (?:and|then) pay (\w+) \$?(\d+(?:\.\d+)?)`),
			Targets:     []string{"wallet.balance.get", "payments.send"},
			Args: func(m []string) []map[string]any {
				pay := map[string]any{"recipient": m[1]}
				if amount, err := strconv.ParseFloat(m[2], 64); err == nil {
					pay["amount"] = amount
				}
				return []map[string]any{{}, pay}
			},
		},
	}
}

func titleOf(body string) string {
	words := strings.Fields(body)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
