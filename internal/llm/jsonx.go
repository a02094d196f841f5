package llm

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// StripFences removes a Markdown code-fence wrapper (``` or ```json) from
// model output. Text without fences is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && len(strings.TrimSpace(s[:idx])) <= 8 {
		// Language tag on the opening fence line ("json", "sql", ...).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeObject parses text as a single JSON object. A single-element array
// wrapping an object is unwrapped; any other shape (bare scalar, empty or
// multi-element array) is InvalidOutput. This is the one-or-list normalizer
// for models that occasionally wrap their answer in a list.
func DecodeObject(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, toolerr.New(toolerr.InvalidOutput, "empty model output")
	}

	var probe any
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return nil, toolerr.Wrap(toolerr.InvalidOutput, err, "model returned non-JSON: %s", clip(trimmed, 120))
	}

	switch v := probe.(type) {
	case map[string]any:
		return json.RawMessage(trimmed), nil
	case []any:
		if len(v) != 1 {
			return nil, toolerr.New(toolerr.InvalidOutput, "expected one object, got list of %d", len(v))
		}
		inner, ok := v[0].(map[string]any)
		if !ok {
			return nil, toolerr.New(toolerr.InvalidOutput, "list element is not an object")
		}
		encoded, err := json.Marshal(inner)
		if err != nil {
			return nil, toolerr.Wrap(toolerr.InvalidOutput, err, "re-encode unwrapped object")
		}
		return encoded, nil
	default:
		return nil, toolerr.New(toolerr.InvalidOutput, "expected a JSON object, got %T", probe)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
