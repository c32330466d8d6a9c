package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Models frequently wrap structured output in markdown fences or prose.
var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls the first JSON object out of a model response and
// unmarshals it into v. It accepts raw JSON, fenced JSON blocks, and JSON
// embedded in surrounding prose.
func ExtractJSON(response string, v interface{}) error {
	candidate := strings.TrimSpace(response)

	if m := jsonFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}

	if !strings.HasPrefix(candidate, "{") {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start == -1 || end == -1 || end < start {
			return fmt.Errorf("no JSON object found in response")
		}
		candidate = candidate[start : end+1]
	}

	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("failed to parse JSON from response: %w", err)
	}
	return nil
}
