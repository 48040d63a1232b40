// Package utils provides small helpers shared across flowcomposer.
package utils

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// StripCodeFences removes a wrapping markdown code fence, with or without
// a language tag. LLM-backed endpoints frequently fence their output even
// when asked for bare JSON or YAML.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line, including any language tag.
	rest := s[3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		rest = rest[newline+1:]
	} else {
		// A fence with no newline has no content lines at all.
		rest = strings.TrimPrefix(rest, "```")
		return strings.TrimSpace(rest)
	}

	// Drop the closing fence, when present.
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ParseJSON parses a JSON string that may be wrapped in a code fence
func ParseJSON(jsonStr string, result interface{}) error {
	return json.Unmarshal([]byte(StripCodeFences(jsonStr)), result)
}

// ParseYAML parses a YAML string that may be wrapped in a code fence
func ParseYAML(yamlStr string, result interface{}) error {
	return yaml.Unmarshal([]byte(StripCodeFences(yamlStr)), result)
}
