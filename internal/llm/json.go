package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxRawExcerpt bounds the raw text kept on an extraction failure.
const maxRawExcerpt = 500

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ExtractError reports model output that could not be read as JSON.
type ExtractError struct {
	Err     string `json:"error"`
	Message string `json:"message"`
	Raw     string `json:"raw"`
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

// ExtractJSON pulls a JSON object out of model output. Fenced code blocks
// win; otherwise the text between the first '{' and the last '}' is used.
func ExtractJSON(text string) (map[string]any, *ExtractError) {
	candidate := strings.TrimSpace(text)

	if m := fencedBlock.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	} else if !strings.HasPrefix(candidate, "{") {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start >= 0 && end > start {
			candidate = candidate[start : end+1]
		}
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, &ExtractError{
			Err:     "json_parse_error",
			Message: err.Error(),
			Raw:     truncate(text, maxRawExcerpt),
		}
	}
	if result == nil {
		return nil, &ExtractError{
			Err:     "json_parse_error",
			Message: "response is not a JSON object",
			Raw:     truncate(text, maxRawExcerpt),
		}
	}
	return result, nil
}

// ParseJSONResponse is ExtractJSON for callers that only need the value.
func ParseJSONResponse(text string) map[string]any {
	result, err := ExtractJSON(text)
	if err != nil {
		return nil
	}
	return result
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
