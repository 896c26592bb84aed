// Package knowledge 为 knowledge.topic.get 提供静态知识条目。
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识条目检索的通用接口。
type Provider interface {
	Query(topic string) []Snippet
}

// Snippet 描述一段可播报的知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过内置条目或 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目，路径为空时使用内置条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticProvider(DefaultSnippets(), maxResults), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回标题、关键字或标签与主题匹配的条目。标题完全相同的条目排在最前。
func (p *StaticProvider) Query(topic string) []Snippet {
	if p == nil {
		return nil
	}
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return nil
	}

	var exact, partial []Snippet
	for _, item := range p.items {
		switch {
		case strings.EqualFold(item.Title, topic):
			exact = append(exact, item)
		case matches(item, topic):
			partial = append(partial, item)
		}
	}
	results := append(exact, partial...)
	if len(results) > p.maxResults {
		results = results[:p.maxResults]
	}
	return results
}

func matches(snippet Snippet, topic string) bool {
	for _, group := range [][]string{snippet.Keywords, snippet.Tags} {
		for _, keyword := range group {
			normalized := strings.ToLower(strings.TrimSpace(keyword))
			if normalized == "" {
				continue
			}
			if normalized == topic || strings.Contains(topic, normalized) {
				return true
			}
		}
	}
	return false
}

// DefaultSnippets 返回内置的平台知识条目。
func DefaultSnippets() []Snippet {
	return []Snippet{
		{
			Title:    "p3 protocol",
			Content:  "The P3 protocol lets apps publish capabilities that a wallet-bound session can invoke once the user grants the scopes they need.",
			Keywords: []string{"p3", "p3 protocol"},
			Tags:     []string{"protocol"},
		},
		{
			Title:    "openmcp",
			Content:  "OpenMCP turns a spoken or typed command into a validated, scope-checked call against a registered capability.",
			Keywords: []string{"openmcp", "mcp"},
		},
		{
			Title:    "capability catalog",
			Content:  "The capability catalog merges built-in endpoints, external apps and manifests into one snapshot that every request reads.",
			Keywords: []string{"capability catalog", "catalog", "capability groups"},
		},
		{
			Title:    "scopes",
			Content:  "Scopes are revocable permissions bound to your session. An endpoint only runs when you hold every scope it declares.",
			Keywords: []string{"scopes", "scope", "permissions"},
		},
		{
			Title:    "review gate",
			Content:  "Payments above the review threshold and other high-risk steps wait for manual approval before they run.",
			Keywords: []string{"review gate", "review"},
		},
		{
			Title:    "credential vault",
			Content:  "OAuth tokens are sealed per wallet with a key derived from your address and a server secret, so only your session can open them.",
			Keywords: []string{"credential vault", "vault"},
		},
		{
			Title:    "compound flows",
			Content:  "Say two things joined by \"and then\" and each part runs in order as its own step.",
			Keywords: []string{"compound flows", "flows"},
		},
	}
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
