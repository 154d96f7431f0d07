// internal/gemini/parse.go
package gemini

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Fenced code block, with or without a json language tag.
var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?\\s*```")

// parseJSONResponse extracts a JSON object from free-form model output.
// Three attempts, first success wins: the raw text as-is, the contents of
// a fenced code block, and the substring between the first '{' and the
// last '}'. Returns nil when all three fail; callers substitute fallback
// objects, never errors.
func parseJSONResponse(raw string) map[string]any {
	if raw == "" {
		return nil
	}

	if parsed := tryParseObject(raw); parsed != nil {
		return parsed
	}

	if match := codeBlockPattern.FindStringSubmatch(raw); match != nil {
		if parsed := tryParseObject(strings.TrimSpace(match[1])); parsed != nil {
			return parsed
		}
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		if parsed := tryParseObject(raw[first : last+1]); parsed != nil {
			return parsed
		}
	}

	return nil
}

// tryParseObject parses s as JSON and returns it only when it is an
// object. Lists and scalars are not usable responses.
func tryParseObject(s string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil
	}
	return parsed
}
