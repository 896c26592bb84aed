package intent

import (
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

var (
	amountPattern   = regexp.MustCompile(`\$(\d+(?:\.\d+)?)|\b(\d+(?:\.\d+)?) ?(?:eth|usd|usdc|dollars?)\b`)
	addressPattern  = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	relativePattern = regexp.MustCompile(`\b(today|tonight|tomorrow|yesterday|this (?:morning|afternoon|evening|week|month)|(?:next|last) (?:week|month|year)|in \d+ (?:minutes?|hours?|days?))\b`)
	limitPattern    = regexp.MustCompile(`\b(?:last|top|first) (\d+)\b`)
)

// MineConstraints extracts generic amount, address, relative time and limit
// constraints from raw text.
func MineConstraints(text string) map[string]any {
	out := make(map[string]any)
	if m := amountPattern.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if amount, err := strconv.ParseFloat(raw, 64); err == nil {
			out["amount"] = amount
		}
	}
	if addr := addressPattern.FindString(text); addr != "" && common.IsHexAddress(addr) {
		out["address"] = addr
	}
	if m := relativePattern.FindStringSubmatch(text); m != nil {
		out["time_range"] = m[1]
	}
	if m := limitPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			out["limit"] = n
		}
	}
	return out
}
