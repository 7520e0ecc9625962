package llm

import "context"

// StubProvider always fails Invoke, exercising each agent's deterministic
// fallback path. It stands in for the real vendor provider, which is an
// external collaborator (spec §1 Non-goals) this repo never implements.
type StubProvider struct {
	Err error
}

func (s *StubProvider) Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return "", errUnconfigured
}

func (s *StubProvider) Name() string { return "stub" }

var errUnconfigured = &unconfiguredError{}

type unconfiguredError struct{}

func (e *unconfiguredError) Error() string { return "llm: no provider configured" }
