// File: internal/llmutil/parser.go
// Description: Lenient decoding of JSON that models produce. Even with JSON
// mode forced, responses arrive wrapped in markdown fences or embedded in
// conversational text; the parser recovers the structure before unmarshalling.
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Regexes use \x60 for backticks because Go raw strings cannot contain them.
var (
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	fencedArrayRegex  = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ParseJSON decodes a model response into T, tolerating markdown fences and
// surrounding prose. The error includes a truncated copy of what was actually
// unmarshalled, which is what the caller wants to log or feed back.
func ParseJSON[T any](response string) (*T, error) {
	extracted := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON: %w (extracted: %s)", err, truncate(extracted, 500))
	}
	return &result, nil
}

// ExtractJSON returns the JSON object or array embedded in a model response,
// or the trimmed response unchanged when no wrapper is detected.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
		if m := fencedArrayRegex.FindStringSubmatch(response); len(m) > 1 {
			return m[1]
		}
		return response
	}

	// Already bare JSON.
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// Structure buried in conversational text. Objects take priority over
	// arrays so an array nested in an object is not cut out of it.
	if s, ok := between(response, "{", "}"); ok {
		return s
	}
	if s, ok := between(response, "[", "]"); ok {
		return s
	}
	return response
}

func between(s, open, close string) (string, bool) {
	first := strings.Index(s, open)
	last := strings.LastIndex(s, close)
	if first == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
