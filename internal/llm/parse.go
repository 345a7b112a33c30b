package llm

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// ParseJSONResponse parses a JSON-mode model response into a loose mapping.
// Leading/trailing markdown fences (with or without a language tag) are
// stripped first. Malformed content yields an empty mapping, never an error,
// so callers proceed with partial data instead of aborting the pipeline.
func ParseJSONResponse(content string) map[string]any {
	stripped := stripFences(content)

	var out map[string]any
	if err := json.Unmarshal([]byte(stripped), &out); err != nil {
		zap.L().Warn("llm: model response is not valid JSON, continuing with empty result",
			zap.Error(err),
			zap.Int("content_len", len(content)),
		)
		return map[string]any{}
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
