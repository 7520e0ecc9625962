// Package llm defines the LLM collaborator interface (spec §6), adapted from
// the teacher's internal/ai/providers package, plus a JSON-extraction helper
// and a stub provider. It contains no vendor provider factory.
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Provider is the LLM collaborator contract: invoke(prompt, max_tokens,
// temperature) -> text. Implementations are external to this engine; only
// the interface and a local stub live here.
type Provider interface {
	Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	Name() string
}

var fencedJSONRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls a fenced JSON code block out of raw LLM output if
// present, otherwise attempts to parse raw directly. Callers must tolerate
// non-JSON output (spec §6); on failure ok is false and callers fall back to
// their own deterministic default.
func ExtractJSON(raw string, out any) bool {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSONRE.FindStringSubmatch(raw); len(m) == 2 {
		candidate = strings.TrimSpace(m[1])
	}
	if candidate == "" {
		return false
	}
	return json.Unmarshal([]byte(candidate), out) == nil
}
