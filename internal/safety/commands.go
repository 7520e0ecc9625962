package safety

import "strings"

// blockedCommandSubstrings names command fragments Remediation must never
// dispatch, regardless of risk level or approval (adapted from the
// teacher's isBlockedCommand list in internal/ai/remediation/engine.go).
var blockedCommandSubstrings = []string{
	"rm -rf /",
	"dd if=/dev/zero",
	":(){ :|:& };:",
	"mkfs",
	"shutdown",
	"format c:",
}

// IsBlockedCommand reports whether command contains a fragment this engine
// refuses to dispatch under any circumstance.
func IsBlockedCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, blocked := range blockedCommandSubstrings {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

// highRiskVerbs, disableVerbs, modifyVerbs and createVerbs back ClassifyVerb,
// which Triage uses for its severity base and anomaly verdict (spec §4.6).
var highRiskVerbs = []string{"delete", "terminate", "destroy"}
var disableVerbs = []string{"stop", "disable", "detach"}
var modifyVerbs = []string{"modify", "update", "change"}
var createVerbs = []string{"create", "start", "enable"}

// VerbCategory classifies an event name's leading verb into one of the
// severity-scoring buckets spec §4.6 defines for Triage.
type VerbCategory int

const (
	VerbOther VerbCategory = iota
	VerbDestructive
	VerbDisabling
	VerbModifying
	VerbCreating
)

// ClassifyVerb inspects eventName (case-insensitive substring match against
// the known verb lists) and returns its category.
func ClassifyVerb(eventName string) VerbCategory {
	lower := strings.ToLower(eventName)
	if containsAny(lower, highRiskVerbs) {
		return VerbDestructive
	}
	if containsAny(lower, disableVerbs) {
		return VerbDisabling
	}
	if containsAny(lower, modifyVerbs) {
		return VerbModifying
	}
	if containsAny(lower, createVerbs) {
		return VerbCreating
	}
	return VerbOther
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
