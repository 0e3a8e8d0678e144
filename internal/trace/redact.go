package trace

import "strings"

// maxFieldLen caps string fields in trace events. Skill outputs can be tens
// of kilobytes; the trace stream only needs enough to identify the call.
const maxFieldLen = 200

// sensitiveKeys are redacted wherever they appear in event data, at any
// nesting depth, case-insensitively.
var sensitiveKeys = map[string]bool{
	"password":   true,
	"token":      true,
	"secret":     true,
	"api_key":    true,
	"apikey":     true,
	"api_secret": true,
}

// Redacted replaces the value of every sensitive key.
const Redacted = "***REDACTED***"

// Sanitize walks v and returns a copy safe for the trace stream: sensitive
// keys replaced with Redacted, strings truncated to maxFieldLen.
func Sanitize(v any) any {
	switch val := v.(type) {
	case string:
		return truncate(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKeys[strings.ToLower(k)] {
				out[k] = Redacted
			} else {
				out[k] = Sanitize(inner)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKeys[strings.ToLower(k)] {
				out[k] = Redacted
			} else {
				out[k] = truncate(inner)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Sanitize(inner)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = truncate(inner)
		}
		return out
	default:
		return v
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxFieldLen {
		return s
	}
	return string(runes[:maxFieldLen]) + "..."
}
