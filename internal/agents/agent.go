// Package agents implements the Agent Framework contract (spec §4.4) and
// the five concrete agents (spec §4.6).
package agents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

// Priority is the total order agents run in: lower runs first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityMedium   Priority = 3
	PriorityLow      Priority = 4
)

// Context is the enhanced context the coordinator builds for each agent:
// the incident context plus every prior agent's accumulated result.
type Context struct {
	Incident            *incident.Incident
	PreviousResults     map[incident.AgentType]*incident.AgentResult
	SimilarIncidents    []*incident.Incident
}

// Result returns the named prior agent's result, or nil if it has not run.
func (c *Context) Result(t incident.AgentType) *incident.AgentResult {
	if c.PreviousResults == nil {
		return nil
	}
	return c.PreviousResults[t]
}

// Agent is the abstract contract every concrete agent satisfies. analyze is
// read-only; execute may mutate infrastructure via collaborators. Agents
// never write the store themselves: the coordinator records the result
// returned by FinishRun (or by a failed BeginRun) on the incident, and the
// workflow engine persists it with its next state transition.
type Agent interface {
	Type() incident.AgentType
	Priority() Priority
	Analyze(ctx context.Context, ac *Context) (json.RawMessage, error)
	Execute(ctx context.Context, ac *Context, analysis json.RawMessage) (json.RawMessage, error)
}

// CriticalFailureDetector lets an agent flag critical_failure=true on its
// own FAILED result, whether Analyze or Execute failed (spec §4.4). For an
// Analyze failure it is called with nil analysis and execution. Agents that never
// need to stop the coordinator don't implement it.
type CriticalFailureDetector interface {
	IsCriticalFailure(analysis, execution json.RawMessage, err error) bool
}

// BeginRun runs an agent's read-only Analyze phase. The caller (the
// coordinator) gets a chance to act on the raw analysis — and a hook point
// to observe the boundary — before FinishRun invokes Execute, which is where
// infrastructure actually gets mutated. If Analyze fails, BeginRun already
// returns the terminal FAILED result and the caller must not call FinishRun.
func BeginRun(ctx context.Context, a Agent, ac *Context) (json.RawMessage, time.Time, *incident.AgentResult) {
	start := time.Now()
	result := &incident.AgentResult{AgentType: a.Type(), Status: incident.AgentStatusSuccess}

	analysis, err := a.Analyze(ctx, ac)
	if err != nil {
		failed := failResult(a, result, start, err)
		if cfd, ok := a.(CriticalFailureDetector); ok && cfd.IsCriticalFailure(nil, nil, err) {
			failed.CriticalFailure = true
		}
		return nil, start, failed
	}
	return analysis, start, nil
}

// FinishRun runs Execute against the analysis BeginRun produced and builds
// the final AgentResult, converting any error into a FAILED result instead
// of propagating it (spec §4.4's "fail soft").
func FinishRun(ctx context.Context, a Agent, ac *Context, analysis json.RawMessage, start time.Time) *incident.AgentResult {
	result := &incident.AgentResult{AgentType: a.Type(), Status: incident.AgentStatusSuccess, Analysis: analysis}

	execution, err := a.Execute(ctx, ac, analysis)
	if err != nil {
		failed := failResult(a, result, start, err)
		if cfd, ok := a.(CriticalFailureDetector); ok && cfd.IsCriticalFailure(analysis, execution, err) {
			failed.CriticalFailure = true
		}
		return failed
	}
	result.Execution = execution
	result.DurationSeconds = time.Since(start).Seconds()

	log.Info().
		Str("agent_type", string(a.Type())).
		Str("correlation_id", ac.Incident.CorrelationID).
		Float64("duration_seconds", result.DurationSeconds).
		Msg("agent run complete")

	return result
}

func failResult(a Agent, result *incident.AgentResult, start time.Time, err error) *incident.AgentResult {
	result.Status = incident.AgentStatusFailed
	result.Error = err.Error()
	result.DurationSeconds = time.Since(start).Seconds()

	log.Warn().
		Str("agent_type", string(a.Type())).
		Err(err).
		Float64("duration_seconds", result.DurationSeconds).
		Msg("agent run failed")

	return result
}
