package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"dario.cat/mergo"
)

// looksLikeJSON reports whether the model emitted a JSON document rather than
// a tag-format payload. Delta builders are asked for JSON but some models
// wrap it in prose or fences; extractJSON handles that before merging.
func looksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "{")
}

// extractJSON strips markdown code fences and returns the first top-level
// JSON object in s, or s unchanged when none is found.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// mergeStateJSON deep-merges a delta document into the current state
// document. Both must be JSON objects. Keys present in the delta override
// the base; nested objects merge recursively; arrays are replaced whole.
func mergeStateJSON(base, delta string) (string, error) {
	baseDoc := map[string]any{}
	if strings.TrimSpace(base) != "" {
		if err := json.Unmarshal([]byte(base), &baseDoc); err != nil {
			return "", fmt.Errorf("decoding current state: %w", err)
		}
	}
	deltaDoc := map[string]any{}
	if err := json.Unmarshal([]byte(extractJSON(delta)), &deltaDoc); err != nil {
		return "", fmt.Errorf("decoding state delta: %w", err)
	}
	if err := mergo.Merge(&baseDoc, deltaDoc, mergo.WithOverride); err != nil {
		return "", fmt.Errorf("merging state delta: %w", err)
	}
	out, err := json.Marshal(baseDoc)
	if err != nil {
		return "", fmt.Errorf("encoding merged state: %w", err)
	}
	return string(out), nil
}
