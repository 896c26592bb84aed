package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"OpenMCP-Intent/internal/catalog"
	"OpenMCP-Intent/internal/intent"
	"OpenMCP-Intent/pkg/logger"
)

// 同一起点的分隔符按长度从长到短排列，保证 ", and then" 不会被拆成 "," 与 "and then"。
var conjunctionPattern = regexp.MustCompile(`\s*(?:,\s*and then\b|,\s*then\b|\band then\b|\bafter that\b|\bthen\b|\balso\b|\bplus\b|\band\b)\s*,?\s*`)

// Resolver 是单子句的意图解析器。
type Resolver interface {
	Resolve(text, role string, snap *catalog.Snapshot) (intent.Resolution, bool)
}

// Reasoner 是可选的外部文本补全服务。
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Composer 组合多步骤流程。
type Composer struct {
	resolver  Resolver
	templates []Template
	reasoner  Reasoner
}

// Option 配置组合器。
type Option func(*Composer)

// WithTemplates 替换复合模板。
func WithTemplates(templates []Template) Option {
	return func(c *Composer) { c.templates = templates }
}

// WithReasoner 启用推理辅助组合。
func WithReasoner(r Reasoner) Option {
	return func(c *Composer) { c.reasoner = r }
}

// NewComposer 创建组合器。
func NewComposer(resolver Resolver, opts ...Option) *Composer {
	c := &Composer{resolver: resolver, templates: DefaultTemplates()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Templates 返回复合模板。
func (c *Composer) Templates() []Template {
	return append([]Template(nil), c.templates...)
}

// Split 按连接词拆分语句，去除空片段。
func Split(text string) []string {
	parts := conjunctionPattern.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), ",;")
		if p != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

// Compose 先尝试复合模板，再按连接词拆分并逐段解析。该方法从不返回错误。
func (c *Composer) Compose(text, role string, snap *catalog.Snapshot) Composed {
	normalized := intent.Normalize(text)
	if composed, ok := c.matchTemplate(normalized, snap); ok {
		return composed
	}

	fragments := Split(normalized)
	out := Composed{Steps: []Step{}, Fragments: make([]Fragment, 0, len(fragments))}
	for _, frag := range fragments {
		res, ok := c.resolver.Resolve(frag, role, snap)
		if !ok {
			out.Fragments = append(out.Fragments, Fragment{Text: frag})
			continue
		}
		resolution := res
		out.Fragments = append(out.Fragments, Fragment{Text: frag, Resolved: true, Resolution: &resolution})
		out.Steps = append(out.Steps, Step{Endpoint: res.Intent.Feature, Args: res.Intent.Args()})
	}

	switch {
	case len(out.Steps) == 0:
		out.RequiresExternalReasoning = true
		out.Explanation = "no clause could be resolved deterministically"
	case len(out.Steps) == 1 && len(fragments) == 1:
		out.Explanation = fmt.Sprintf("single step %s", out.Steps[0].Endpoint)
	default:
		out.Explanation = fmt.Sprintf("%d of %d clauses resolved: %s", len(out.Steps), len(fragments), strings.Join(out.Keys(), " -> "))
	}
	return out
}

// ComposeWithReasoning 在确定性路径失败时请求外部推理，并只接受由目录中已知键组成的 JSON 数组。
func (c *Composer) ComposeWithReasoning(ctx context.Context, text, role string, snap *catalog.Snapshot) Composed {
	composed := c.Compose(text, role, snap)
	if !composed.RequiresExternalReasoning || c.reasoner == nil || snap == nil {
		return composed
	}

	raw, err := c.reasoner.Complete(ctx, reasoningPrompt(text, snap))
	if err != nil {
		logger.L().Warn("推理辅助组合失败", "error", err)
		return composed
	}
	keys, err := ParseReasonedKeys(raw, snap)
	if err != nil {
		logger.L().Warn("推理结果不可用", "error", err)
		return composed
	}
	steps := make([]Step, 0, len(keys))
	for _, key := range keys {
		steps = append(steps, Step{Endpoint: key, Args: map[string]any{}})
	}
	composed.Steps = steps
	composed.RequiresExternalReasoning = false
	composed.Reasoned = true
	composed.Explanation = fmt.Sprintf("selected by external reasoning: %s", strings.Join(keys, " -> "))
	return composed
}

const visibilityInternal = "internal"

// ParseReasonedKeys 校验推理输出是否为已知且非内部的 endpoint 键组成的非空 JSON 数组。
func ParseReasonedKeys(raw string, snap *catalog.Snapshot) ([]string, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var keys []string
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		return nil, fmt.Errorf("推理输出不是字符串数组: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("推理输出为空数组")
	}
	for i, key := range keys {
		key = strings.TrimSpace(key)
		ep, ok := snap.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("推理输出包含未知 endpoint: %q", key)
		}
		if ep.Policy.Visibility == visibilityInternal {
			return nil, fmt.Errorf("推理输出包含内部 endpoint: %q", key)
		}
		keys[i] = key
	}
	return keys, nil
}

func (c *Composer) matchTemplate(text string, snap *catalog.Snapshot) (Composed, bool) {
	for _, tpl := range c.templates {
		if tpl.Pattern == nil {
			continue
		}
		m := tpl.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if snap != nil && !allKnown(tpl.Targets, snap) {
			continue
		}
		var args []map[string]any
		if tpl.Args != nil {
			args = tpl.Args(m)
		}
		steps := make([]Step, len(tpl.Targets))
		for i, target := range tpl.Targets {
			stepArgs := map[string]any{}
			if i < len(args) && args[i] != nil {
				stepArgs = args[i]
			}
			steps[i] = Step{Endpoint: target, Args: stepArgs}
		}
		return Composed{
			Steps:       steps,
			Fragments:   []Fragment{{Text: text, Resolved: true}},
			Template:    tpl.Name,
			Explanation: fmt.Sprintf("matched template %s", tpl.Name),
		}, true
	}
	return Composed{}, false
}

func allKnown(keys []string, snap *catalog.Snapshot) bool {
	for _, key := range keys {
		if !snap.Has(key) {
			return false
		}
	}
	return true
}

func reasoningPrompt(text string, snap *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString("Select the endpoints that fulfil the request, in execution order.\n")
	b.WriteString("Reply with a JSON array of endpoint keys only. Use only keys from this list:\n")
	for _, ep := range snap.All() {
		if ep.Policy.Visibility == visibilityInternal {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", ep.Key, ep.Description)
	}
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(text))
	return b.String()
}
