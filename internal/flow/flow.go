// Package flow 将多子句语句拆分为有序的步骤，或直接命中预先编写的复合模板。
package flow

import "OpenMCP-Intent/internal/intent"

// Step 是一次已解析的调用：endpoint 键与具体参数。
type Step struct {
	Endpoint string         `json:"endpoint"`
	Args     map[string]any `json:"args"`
}

// Fragment 记录一个子句及其解析结果，未解析的子句同样保留用于诊断。
type Fragment struct {
	Text       string             `json:"text"`
	Resolved   bool               `json:"resolved"`
	Resolution *intent.Resolution `json:"resolution,omitempty"`
}

// Composed 是组合后的流程。
type Composed struct {
	Steps                     []Step     `json:"steps"`
	Fragments                 []Fragment `json:"fragments"`
	Explanation               string     `json:"explanation"`
	Template                  string     `json:"template,omitempty"`
	RequiresExternalReasoning bool       `json:"requires_external_reasoning"`
	Reasoned                  bool       `json:"reasoned,omitempty"`
}

// Keys 返回步骤的 endpoint 键序列。
func (c Composed) Keys() []string {
	out := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Endpoint
	}
	return out
}
