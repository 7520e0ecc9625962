// Package coordinator implements the Agent Coordinator (spec §4.5):
// priority-ordered execution, context accumulation, partial-failure policy.
package coordinator

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/fleetops-ai/incident-orchestrator/internal/agents"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

// Outcome is the coordinator's overall output (spec §4.5).
type Outcome struct {
	CorrelationID    string
	ExecutionOrder   []incident.AgentType
	AgentResults     map[incident.AgentType]*incident.AgentResult
	TotalAgents      int
	SuccessfulAgents int
	FailedAgents     int
	StoppedEarly     bool
}

// Coordinator runs a fixed roster of agents, in priority order, against one
// incident context at a time. It holds no per-incident state between calls
// (neither does the workflow engine above it, which keeps everything in the
// store); this type is stateless and safe for concurrent use across
// incidents.
type Coordinator struct {
	roster []agents.Agent
}

// New builds a Coordinator over roster, stable-sorted by priority ascending
// (spec §4.5 step 2). The canonical order — Triage, Telemetry, Risk,
// Remediation, Communications — falls out of each agent's declared
// Priority().
func New(roster []agents.Agent) *Coordinator {
	sorted := make([]agents.Agent, len(roster))
	copy(sorted, roster)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Coordinator{roster: sorted}
}

// Hooks lets a caller (the workflow engine) observe per-agent boundaries to
// drive its own state transitions, without the coordinator knowing anything
// about workflow states itself. BeforeExecute fires after an agent's
// Analyze has succeeded but before its Execute runs — the only point at
// which a caller can act immediately ahead of real infrastructure mutation,
// rather than after the fact. ShouldStop is consulted after AfterAgent and
// lets the caller halt the roster for a reason the agent itself has no way
// to express (the confidence gate, a deadline) — it composes with, rather
// than replaces, an agent's own CriticalFailureDetector verdict.
type Hooks struct {
	BeforeAgent   func(t incident.AgentType)
	BeforeExecute func(t incident.AgentType, analysis json.RawMessage)
	AfterAgent    func(t incident.AgentType, result *incident.AgentResult)
	ShouldStop    func(t incident.AgentType, result *incident.AgentResult) bool
}

// Run executes every agent in priority order, accumulating results into the
// enhanced context each subsequent agent observes. It stops early when ctx
// is done, when an agent's result has Status=FAILED and
// CriticalFailure=true, or when hooks.ShouldStop returns true.
func (c *Coordinator) Run(ctx context.Context, inc *incident.Incident, similar []*incident.Incident, hooks Hooks) Outcome {
	accumulated := make(map[incident.AgentType]*incident.AgentResult, len(c.roster))
	outcome := Outcome{
		CorrelationID: inc.CorrelationID,
		AgentResults:  accumulated,
		TotalAgents:   len(c.roster),
	}

	for _, agent := range c.roster {
		if ctx.Err() != nil {
			outcome.StoppedEarly = true
			break
		}

		if hooks.BeforeAgent != nil {
			hooks.BeforeAgent(agent.Type())
		}

		ac := &agents.Context{
			Incident:         inc,
			PreviousResults:  accumulated,
			SimilarIncidents: similar,
		}

		analysis, start, result := agents.BeginRun(ctx, agent, ac)
		if result == nil {
			if hooks.BeforeExecute != nil {
				hooks.BeforeExecute(agent.Type(), analysis)
			}
			result = agents.FinishRun(ctx, agent, ac, analysis, start)
		}
		accumulated[agent.Type()] = result
		outcome.ExecutionOrder = append(outcome.ExecutionOrder, agent.Type())
		inc.SetResultSlot(agent.Type(), result)

		if hooks.AfterAgent != nil {
			hooks.AfterAgent(agent.Type(), result)
		}

		if result.Status == incident.AgentStatusSuccess {
			outcome.SuccessfulAgents++
		} else {
			outcome.FailedAgents++
		}

		if result.Status == incident.AgentStatusFailed && result.CriticalFailure {
			outcome.StoppedEarly = true
			break
		}

		if hooks.ShouldStop != nil && hooks.ShouldStop(agent.Type(), result) {
			outcome.StoppedEarly = true
			break
		}
	}

	return outcome
}
