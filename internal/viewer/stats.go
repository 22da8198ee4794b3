package viewer

import (
	"fmt"
	"sort"
	"strings"
)

// StatsLine formats a label→value mapping as one compact status line for
// the clients' stats display. Floats render with three decimals, integers
// as-is, everything else through %v. Labels are sorted so the line is
// stable between refreshes.
func StatsLine(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch v := values[k].(type) {
		case float64:
			fmt.Fprintf(&b, "%s: %.3f", k, v)
		case float32:
			fmt.Fprintf(&b, "%s: %.3f", k, v)
		case int:
			fmt.Fprintf(&b, "%s: %d", k, v)
		case int64:
			fmt.Fprintf(&b, "%s: %d", k, v)
		default:
			fmt.Fprintf(&b, "%s: %v", k, v)
		}
	}
	return b.String()
}
