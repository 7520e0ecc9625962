// Package workflow implements the Workflow Engine (spec §4.7): the state
// machine that takes a normalized event from DETECTING through the
// coordinator's agent roster to a terminal state, persisting every
// transition through the incident store.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetops-ai/incident-orchestrator/internal/agents"
	"github.com/fleetops-ai/incident-orchestrator/internal/audit"
	"github.com/fleetops-ai/incident-orchestrator/internal/circuit"
	"github.com/fleetops-ai/incident-orchestrator/internal/config"
	"github.com/fleetops-ai/incident-orchestrator/internal/coordinator"
	"github.com/fleetops-ai/incident-orchestrator/internal/events"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
	"github.com/fleetops-ai/incident-orchestrator/internal/metrics"
)

// Engine drives one incident at a time through the state machine. It holds
// no per-incident state of its own — everything survives in the store —
// so a single Engine is safe for concurrent use across incidents (the
// cross-incident concurrency bound lives one layer up, in the caller that
// fans events out across Engine.Handle calls; see cmd/orchestrator).
type Engine struct {
	Store       *incident.Store
	Gate        *incident.Gate
	Coordinator *coordinator.Coordinator
	Config      *config.Config
	Audit       *audit.Log
	Metrics     *metrics.Metrics

	// Now is injectable for deterministic tests; defaults to time.Now().UTC.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Outcome is what Handle returns: the final incident plus a human-readable
// reason when the run ended somewhere other than plain success.
type Outcome struct {
	Incident *incident.Incident
	Reason   string
}

func (e *Engine) audit(correlationID, component, message string, fields map[string]any) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Append(audit.Record{
		Component:     component,
		CorrelationID: correlationID,
		Message:       message,
		Fields:        fields,
	}); err != nil {
		log.Warn().Err(err).Str("correlation_id", correlationID).Msg("audit append failed")
	}
}

// Handle is the engine's entry point: it normalizes a raw event envelope,
// admits or suppresses it via the cooldown gate, and — if admitted — runs
// it through ANALYZING/PLANNING/EXECUTING to a terminal state.
func (e *Engine) Handle(ctx context.Context, env events.Envelope, correlationID, eventTime string) (*Outcome, error) {
	ic, ignored := events.Normalize(env, correlationID, eventTime)
	if ignored != nil {
		e.audit(correlationID, "engine", "event ignored", map[string]any{"reason": ignored.Reason})
		return nil, nil
	}

	inc, err := e.admit(ctx, ic)
	if err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, err
	}
	if inc.WorkflowState == incident.StateCooldown {
		return &Outcome{Incident: inc, Reason: "suppressed"}, nil
	}

	return e.Run(ctx, inc)
}

// admit builds the Incident record, runs the fingerprint/cooldown gate, and
// persists the DETECTING (or immediately-suppressed COOLDOWN) state. Every
// store round-trip here goes through retryStore (spec §4.2/§7): a transient
// sqlite busy error is retried with backoff rather than aborting the
// incident outright, and a persistent failure terminates it into FAILED
// instead of silently dropping it on the caller.
func (e *Engine) admit(ctx context.Context, ic *events.IncidentContext) (*incident.Incident, error) {
	ts, err := time.Parse(time.RFC3339, ic.EventTime)
	if err != nil {
		ts = e.now()
	}

	inc := &incident.Incident{
		CorrelationID:     ic.CorrelationID,
		IncidentTimestamp: ts,
		ResourceType:      ic.ResourceType,
		ResourceID:        ic.ResourceID,
		Region:            ic.Region,
		EventDetails:      ic.EventDetails,
		WorkflowState:     incident.StateDetecting,
		CreatedAt:         e.now(),
		UpdatedAt:         e.now(),
	}
	inc.Fingerprint = incident.Fingerprint(ic.EventName, ic.ResourceType, ic.ResourceID, ic.Region)

	if err := e.retryStore(ctx, func(ctx context.Context) error { return e.Store.Put(ctx, inc) }); err != nil {
		return inc, e.failStore(ctx, inc, err)
	}

	var decision incident.Decision
	if err := e.retryStore(ctx, func(ctx context.Context) error {
		d, err := e.Gate.Evaluate(ctx, inc)
		if err != nil {
			return err
		}
		decision = d
		return nil
	}); err != nil {
		return inc, e.failStore(ctx, inc, err)
	}

	if decision.Suppressed {
		inc.WorkflowState = incident.StateCooldown
		inc.CooldownReason = decision.CooldownReason
		if err := e.retryStore(ctx, func(ctx context.Context) error { return e.Store.Put(ctx, inc) }); err != nil {
			inc.WorkflowState = incident.StateDetecting // persistence failed, so the COOLDOWN verdict never took effect
			return inc, e.failStore(ctx, inc, err)
		}
		e.audit(inc.CorrelationID, "engine", "incident suppressed by cooldown gate", map[string]any{"reason": decision.CooldownReason})
		return inc, nil
	}

	return inc, nil
}

// retryStore wraps a single store round-trip in the engine's retry/backoff
// policy (spec §7: 3 attempts, base 1s, factor 2, jitter). fn is retried
// only while the store classifies its failure as transient.
func (e *Engine) retryStore(ctx context.Context, fn func(ctx context.Context) error) error {
	return circuit.Retry(ctx, circuit.DefaultRetryConfig(), fn)
}

// failStore marks inc FAILED — best effort, since the store has just
// exhausted its retries and may still be unavailable — and returns cause
// unchanged so the caller's error path is unambiguous. This is the engine's
// escape hatch for a persistent store failure (spec §4.2/§7), distinct from
// transition's normal CanTransition-validated edges: a dead store can strand
// an incident in any non-terminal state, so this bypasses the state graph
// rather than widening it for one failure mode.
func (e *Engine) failStore(ctx context.Context, inc *incident.Incident, cause error) error {
	if !inc.WorkflowState.Terminal() {
		inc.WorkflowState = incident.StateFailed
		inc.FailureReason = "store_unavailable"
		inc.UpdatedAt = e.now()
		_ = e.Store.Put(ctx, inc)
		e.recordTerminal(inc, false)
	}
	e.audit(inc.CorrelationID, "engine", "incident failed: store persistently unavailable", map[string]any{"error": cause.Error()})
	return cause
}

// Run advances an admitted (DETECTING) incident through the agent roster to
// a terminal state. It is also the entry point for resuming an incident
// that was built outside Handle (e.g. a test fixture, or a future manual
// replay tool).
func (e *Engine) Run(ctx context.Context, inc *incident.Incident) (*Outcome, error) {
	if err := e.transition(ctx, inc, incident.StateAnalyzing, nil); err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, err)
	}

	deadline := e.Config.IncidentDeadline
	if deadline <= 0 {
		deadline = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var similar []*incident.Incident
	if err := e.retryStore(ctx, func(ctx context.Context) error {
		s, err := e.Store.QueryByResourceType(ctx, inc.ResourceType, inc.Classification, incident.StateCompleted, 5)
		if err != nil {
			return err
		}
		similar = s
		return nil
	}); err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, err)
	}

	var (
		lowConfidence bool
		lowConfReason string
		transitionErr error
	)

	// BeforeAgent fires before Remediation's read-only Analyze, so PLANNING
	// is safe to enter immediately. BeforeExecute fires after Analyze has
	// succeeded but strictly before Execute dispatches — the actual
	// infrastructure mutation — so EXECUTING is persisted before that
	// mutation starts, not after it finishes. This keeps the cooldown
	// gate's mutual-exclusion guarantee (spec §8 property 3) honest: the
	// whole window in which infrastructure is being changed is now visible
	// as EXECUTING, not PLANNING.
	hooks := coordinator.Hooks{
		BeforeAgent: func(t incident.AgentType) {
			if t == incident.AgentRemediation {
				if err := e.transition(ctx, inc, incident.StatePlanning, nil); err != nil {
					transitionErr = err
				}
			}
		},
		BeforeExecute: func(t incident.AgentType, analysis json.RawMessage) {
			if t == incident.AgentRemediation {
				if err := e.transition(ctx, inc, incident.StateExecuting, nil); err != nil {
					transitionErr = err
				}
			}
		},
		AfterAgent: func(t incident.AgentType, result *incident.AgentResult) {
			if t == incident.AgentTriage {
				if ta, ok := decodeTriage(result); ok {
					if ta.Confidence < e.Config.ConfidenceThreshold &&
						(ta.AnomalyClassification == agents.AnomalyFailure || ta.AnomalyClassification == agents.AnomalyTampering) {
						lowConfidence = true
						lowConfReason = "low_confidence"
					}
					inc.Classification = ta.Classification
				}
			}
			if t == incident.AgentRemediation {
				if re, ok := decodeRemediationExecution(result); ok && re.PendingApproval {
					inc.ApprovalStatus = incident.ApprovalPending
				}
			}
		},
		ShouldStop: func(t incident.AgentType, result *incident.AgentResult) bool {
			return transitionErr != nil || (t == incident.AgentTriage && lowConfidence)
		},
	}

	outcome := e.Coordinator.Run(runCtx, inc, similar, hooks)

	if transitionErr != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, transitionErr)
	}
	if lowConfidence {
		return e.finalizeLowConfidence(ctx, inc, lowConfReason)
	}
	if runCtx.Err() != nil {
		return e.finalizeDeadline(ctx, inc)
	}

	return e.finalize(ctx, inc, outcome)
}

func decodeTriage(result *incident.AgentResult) (*agents.TriageAnalysis, bool) {
	if result == nil || result.Status != incident.AgentStatusSuccess || len(result.Analysis) == 0 {
		return nil, false
	}
	var ta agents.TriageAnalysis
	if err := json.Unmarshal(result.Analysis, &ta); err != nil {
		return nil, false
	}
	return &ta, true
}

func decodeRemediationExecution(result *incident.AgentResult) (*agents.RemediationExecution, bool) {
	if result == nil || len(result.Execution) == 0 {
		return nil, false
	}
	var re agents.RemediationExecution
	if err := json.Unmarshal(result.Execution, &re); err != nil {
		return nil, false
	}
	return &re, true
}

// finalizeLowConfidence implements the confidence gate (spec §4.7): a
// sub-threshold triage confidence paired with a FAILURE/TAMPERING verdict
// completes the incident immediately with recovery_needed=false rather than
// letting Risk/Remediation act on an uncertain read.
func (e *Engine) finalizeLowConfidence(ctx context.Context, inc *incident.Incident, reason string) (*Outcome, error) {
	no := false
	if err := e.transition(ctx, inc, incident.StateCompleted, func(i *incident.Incident) {
		i.RecoveryNeeded = &no
		i.FailureReason = reason
	}); err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, err)
	}
	e.audit(inc.CorrelationID, "engine", "completed without remediation: low confidence", map[string]any{"reason": reason})
	e.recordTerminal(inc, true)
	return &Outcome{Incident: inc, Reason: reason}, nil
}

func (e *Engine) finalizeDeadline(ctx context.Context, inc *incident.Incident) (*Outcome, error) {
	if err := e.transition(ctx, inc, incident.StateFailed, func(i *incident.Incident) {
		i.FailureReason = "deadline_exceeded"
	}); err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, err)
	}
	e.audit(inc.CorrelationID, "engine", "incident deadline exceeded", nil)
	e.recordTerminal(inc, false)
	return &Outcome{Incident: inc, Reason: "deadline_exceeded"}, nil
}

// finalize determines the terminal state from the coordinator outcome:
// COMPLETED iff every agent that ran reported SUCCESS, else FAILED (spec
// §4.7). A stopped-early run (critical failure) is always FAILED.
func (e *Engine) finalize(ctx context.Context, inc *incident.Incident, outcome coordinator.Outcome) (*Outcome, error) {
	final := incident.StateCompleted
	reason := ""
	if outcome.StoppedEarly || outcome.FailedAgents > 0 {
		final = incident.StateFailed
		reason = "agent_failure"
	}

	if err := e.transition(ctx, inc, final, func(i *incident.Incident) {
		if reason != "" {
			i.FailureReason = reason
		}
	}); err != nil {
		return &Outcome{Incident: inc, Reason: "store_unavailable"}, e.failStore(ctx, inc, err)
	}

	e.audit(inc.CorrelationID, "engine", "incident run complete", map[string]any{
		"final_state":       string(final),
		"successful_agents": outcome.SuccessfulAgents,
		"failed_agents":     outcome.FailedAgents,
	})
	e.recordTerminal(inc, final == incident.StateCompleted)
	return &Outcome{Incident: inc, Reason: reason}, nil
}

func (e *Engine) recordTerminal(inc *incident.Incident, succeeded bool) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.EngineIncidentCount.WithLabelValues(inc.ResourceType, string(inc.Classification)).Inc()
	e.Metrics.EngineRecoveryDuration.WithLabelValues(inc.ResourceType, boolLabel(succeeded)).
		Observe(e.now().Sub(inc.CreatedAt).Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// transition validates and persists a state change against the in-memory
// incident (which already carries whatever agent results the coordinator has
// accumulated on it via SetResultSlot) rather than re-fetching from the
// store, so a transition never clobbers results gathered since the last
// write.
func (e *Engine) transition(ctx context.Context, inc *incident.Incident, to incident.WorkflowState, mutate func(*incident.Incident)) error {
	if !incident.CanTransition(inc.WorkflowState, to) {
		return &invalidTransitionError{From: inc.WorkflowState, To: to}
	}
	prev := inc.WorkflowState
	inc.WorkflowState = to
	inc.UpdatedAt = e.now()
	if mutate != nil {
		mutate(inc)
	}
	if err := e.retryStore(ctx, func(ctx context.Context) error { return e.Store.Put(ctx, inc) }); err != nil {
		inc.WorkflowState = prev // the transition never actually persisted
		return err
	}
	return nil
}

type invalidTransitionError struct {
	From, To incident.WorkflowState
}

func (e *invalidTransitionError) Error() string {
	return "workflow: illegal transition from " + string(e.From) + " to " + string(e.To)
}
