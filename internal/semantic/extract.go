package semantic

import (
	"regexp"
	"strings"
)

var placeholderName = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ExtractArgs 从命中的参数化短语中提取参数值。
// 短语中的 {name} 被转换为捕获组；未被捕获的参数再尝试 "name: value" 与 "value name" 两种位置形式。
func ExtractArgs(query, phrase string, argNames []string) map[string]any {
	out := make(map[string]any)
	text := strings.TrimSpace(query)
	if text == "" {
		return out
	}

	if pattern, names := phrasePattern(phrase); pattern != nil {
		if m := pattern.FindStringSubmatch(text); m != nil {
			for i, name := range names {
				value := strings.TrimSpace(m[i+1])
				if value != "" {
					out[name] = value
				}
			}
		}
	}

	for _, name := range argNames {
		if _, ok := out[name]; ok {
			continue
		}
		if value, ok := labelledValue(text, name); ok {
			out[name] = value
			continue
		}
		if value, ok := trailingLabelValue(text, name); ok {
			out[name] = value
		}
	}
	return out
}

func phrasePattern(phrase string) (*regexp.Regexp, []string) {
	locs := placeholderName.FindAllStringSubmatchIndex(phrase, -1)
	if len(locs) == 0 {
		return nil, nil
	}
	var (
		b     strings.Builder
		names []string
		last  int
	)
	b.WriteString(`(?i)\b`)
	for i, loc := range locs {
		b.WriteString(literal(phrase[last:loc[0]]))
		names = append(names, phrase[loc[2]:loc[3]])
		if i == len(locs)-1 && strings.TrimSpace(phrase[loc[1]:]) == "" {
			b.WriteString(`(.+)`)
		} else {
			b.WriteString(`(.+?)`)
		}
		last = loc[1]
	}
	b.WriteString(literal(phrase[last:]))
	pattern, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil
	}
	return pattern, names
}

// literal 转义字面部分并允许任意数量的空白。
func literal(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s == "" {
			return ""
		}
		return `\s+`
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	out := strings.Join(quoted, `\s+`)
	if strings.HasPrefix(s, " ") {
		out = `\s+` + out
	}
	if strings.HasSuffix(s, " ") {
		out += `\s+`
	}
	return out
}

func labelledValue(text, name string) (string, bool) {
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*[:=]\s*("[^"]*"|\S+)`)
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.Trim(m[1], `"`), true
}

func trailingLabelValue(text, name string) (string, bool) {
	pattern := regexp.MustCompile(`(?i)(\S+)\s+` + regexp.QuoteMeta(name) + `\b`)
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	value := strings.Trim(m[1], `",.`)
	if value == "" || stopWords[strings.ToLower(value)] {
		return "", false
	}
	return value, true
}
