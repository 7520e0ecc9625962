// Package safety holds a redaction helper, the blocked-command check
// Remediation applies before dispatching a step, and the verb classifier
// Triage scores severity with, adapted from the teacher's
// internal/ai/safety package.
package safety

import (
	"regexp"
	"strings"
)

var (
	kvSecretRE    = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)\s*[:=]\s*\S+`)
	bearerRE      = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`)
	awsAccessKeyRE = regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)
	jwtRE         = regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`)
	pemBeginRE    = regexp.MustCompile(`-----BEGIN [A-Z ]+-----`)
	pemEndRE      = regexp.MustCompile(`-----END [A-Z ]+-----`)
)

// RedactSensitiveText replaces key/value secrets, bearer tokens, AWS access
// keys, JWTs and whole PEM blocks in input with redaction markers. Returns
// the redacted text and the number of replacements made. The engine's
// logging, audit and LLM paths do not call it.
func RedactSensitiveText(input string) (string, int) {
	lines := strings.Split(input, "\n")
	inPEM := false
	count := 0

	for i, line := range lines {
		if inPEM {
			lines[i] = "[REDACTED PEM]"
			count++
			if pemEndRE.MatchString(line) {
				inPEM = false
			}
			continue
		}
		if pemBeginRE.MatchString(line) {
			inPEM = true
			lines[i] = "[REDACTED PEM]"
			count++
			continue
		}

		redacted := line
		for _, re := range []*regexp.Regexp{kvSecretRE, bearerRE, awsAccessKeyRE, jwtRE} {
			if re.MatchString(redacted) {
				count += len(re.FindAllString(redacted, -1))
				redacted = re.ReplaceAllString(redacted, "[REDACTED]")
			}
		}
		lines[i] = redacted
	}

	return strings.Join(lines, "\n"), count
}
