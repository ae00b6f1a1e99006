package llm

import (
	"encoding/json"
	"regexp"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	bareJSONRe   = regexp.MustCompile(`(?s)(\{.*?\})`)
)

// ExtractJSON finds the JSON object in a model answer: a ```json fenced
// block first, else the first non-greedy {...} span. ok is false when no
// braces are found.
func ExtractJSON(raw string) (span string, ok bool) {
	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if m := bareJSONRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	return "", false
}

// DecodeJSON extracts and unmarshals the JSON object of raw into v.
// It reports false on a missing span or malformed JSON.
func DecodeJSON(raw string, v any) bool {
	span, ok := ExtractJSON(raw)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(span), v) == nil
}
