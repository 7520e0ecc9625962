package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/executors"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/llm"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
	"github.com/fleetops-ai/incident-orchestrator/internal/safety"
)

// ActionType is one of the runbook step kinds (spec §4.6).
type ActionType string

const (
	ActionImageBuild      ActionType = "image-build"
	ActionCommandDispatch ActionType = "command-dispatch"
	ActionFunction        ActionType = "function"
	ActionManual          ActionType = "manual"
	// ActionScale and ActionRestartWorkload are supplemented action types
	// (original_source/04-kubernetes/lambda/k8s_agent.py), dispatched
	// through the same CommandExecutor as command-dispatch.
	ActionScale           ActionType = "scale"
	ActionRestartWorkload ActionType = "restart-workload"
)

// RiskLevel is Remediation's own risk bucket, distinct from the Risk
// agent's numeric risk_score (spec §4.6).
type RiskLevel string

const (
	RemediationRiskLow    RiskLevel = "low"
	RemediationRiskMedium RiskLevel = "medium"
	RemediationRiskHigh   RiskLevel = "high"
)

// RunbookStep is one ordered step of a remediation plan.
type RunbookStep struct {
	StepNumber      int        `json:"step_number"`
	ActionType      ActionType `json:"action_type"`
	Description     string     `json:"description"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	Command         string     `json:"command,omitempty"`
	SuccessCriteria string     `json:"success_criteria,omitempty"`
}

// RemediationAnalysis is Remediation's Analyze output: the runbook plus the
// approval decision.
type RemediationAnalysis struct {
	Steps                   []RunbookStep `json:"steps"`
	RiskLevel               RiskLevel     `json:"risk_level"`
	RequiresApproval        bool          `json:"requires_approval"`
	EstimatedDurationSeconds int          `json:"estimated_duration_seconds"`
	FallbackUsed            bool          `json:"fallback_used"`
}

// StepResult is the outcome of dispatching one runbook step.
type StepResult struct {
	StepNumber int    `json:"step_number"`
	Status     string `json:"status"` // "succeeded" | "failed" | "skipped"
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RemediationExecution is Remediation's Execute output.
type RemediationExecution struct {
	PendingApproval bool         `json:"pending_approval"`
	StepResults     []StepResult `json:"step_results,omitempty"`
	Succeeded       bool         `json:"succeeded"`
}

// Remediation is the MEDIUM-priority agent: synthesizes and dispatches a
// runbook.
type Remediation struct {
	LLM       llm.Provider
	Executors executors.Bundle
}

func (r *Remediation) Type() incident.AgentType { return incident.AgentRemediation }
func (r *Remediation) Priority() Priority       { return PriorityMedium }

func (r *Remediation) Analyze(ctx context.Context, ac *Context) (json.RawMessage, error) {
	inc := ac.Incident
	triage := triageAnalysisFrom(ac)

	if triage != nil && triage.IsDuplicate {
		return json.Marshal(RemediationAnalysis{RiskLevel: RemediationRiskLow})
	}

	steps, fallback := r.synthesizeRunbook(ctx, inc)

	estDuration := 0
	for _, s := range steps {
		estDuration += s.TimeoutSeconds
	}

	riskLevel := RemediationRiskLow
	classification := incident.ClassificationInfo
	if triage != nil {
		classification = triage.Classification
	}
	switch {
	case classification == incident.ClassificationCritical || len(steps) > 5 || estDuration > 600:
		riskLevel = RemediationRiskHigh
	case inc.ResourceType == "relational-db" || inc.ResourceType == "table-store":
		riskLevel = RemediationRiskMedium
	}

	requiresApproval := riskLevel == RemediationRiskHigh || riskLevel == RemediationRiskMedium || classification == incident.ClassificationCritical
	if risk := riskAnalysisFrom(ac); risk != nil && risk.SafeToProceed {
		requiresApproval = false
	}

	analysis := RemediationAnalysis{
		Steps:                    steps,
		RiskLevel:                riskLevel,
		RequiresApproval:         requiresApproval,
		EstimatedDurationSeconds: estDuration,
		FallbackUsed:             fallback,
	}
	return json.Marshal(analysis)
}

func (r *Remediation) synthesizeRunbook(ctx context.Context, inc *incident.Incident) ([]RunbookStep, bool) {
	prompt := fmt.Sprintf(
		"Synthesize a remediation runbook for resource_type=%s resource_id=%s region=%s. "+
			"Respond in JSON with these keys: steps (array of {step_number, action_type, description, timeout_seconds, command, success_criteria}).",
		inc.ResourceType, inc.ResourceID, inc.Region)

	raw, err := r.LLM.Invoke(ctx, prompt, 1024, 0.2)
	if err == nil {
		var parsed struct {
			Steps []RunbookStep `json:"steps"`
		}
		if llm.ExtractJSON(raw, &parsed) && len(parsed.Steps) > 0 {
			return parsed.Steps, false
		}
	}

	return []RunbookStep{{
		StepNumber:      1,
		ActionType:      ActionImageBuild,
		Description:     "restore via image-build",
		TimeoutSeconds:  300,
		SuccessCriteria: "build completes and resource is replaced",
	}}, true
}

func (r *Remediation) Execute(ctx context.Context, ac *Context, analysisRaw json.RawMessage) (json.RawMessage, error) {
	var analysis RemediationAnalysis
	if err := json.Unmarshal(analysisRaw, &analysis); err != nil {
		return nil, err
	}

	if analysis.RequiresApproval {
		return json.Marshal(RemediationExecution{PendingApproval: true})
	}

	inc := ac.Incident
	var results []StepResult
	succeeded := true

	for _, step := range analysis.Steps {
		if safety.IsBlockedCommand(step.Command) {
			results = append(results, StepResult{StepNumber: step.StepNumber, Status: "failed", Error: "blocked command"})
			succeeded = false
			break
		}

		res := r.dispatchStep(ctx, inc, step)
		results = append(results, res)
		if res.Status == "failed" {
			succeeded = false
			break
		}
	}

	return json.Marshal(RemediationExecution{StepResults: results, Succeeded: succeeded})
}

func (r *Remediation) dispatchStep(ctx context.Context, inc *incident.Incident, step RunbookStep) StepResult {
	switch step.ActionType {
	case ActionImageBuild:
		if r.Executors.Build == nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: "no build executor configured"}
		}
		id, err := r.Executors.Build.Start(ctx, step.Command, map[string]string{
			"CORRELATION_ID": inc.CorrelationID,
			"RESOURCE_TYPE":  inc.ResourceType,
		})
		if err != nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: err.Error()}
		}
		return StepResult{StepNumber: step.StepNumber, Status: "succeeded", Output: id}

	case ActionCommandDispatch, ActionScale, ActionRestartWorkload:
		if r.Executors.Command == nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: "no command executor configured"}
		}
		id, err := r.Executors.Command.Start(ctx, step.Command, map[string]string{
			"correlation_id": inc.CorrelationID,
		})
		if err != nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: err.Error()}
		}
		return StepResult{StepNumber: step.StepNumber, Status: "succeeded", Output: id}

	case ActionFunction:
		if r.Executors.Function == nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: "no function executor configured"}
		}
		resp, err := r.Executors.Function.Invoke(ctx, step.Command, []byte(inc.CorrelationID))
		if err != nil {
			return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: err.Error()}
		}
		return StepResult{StepNumber: step.StepNumber, Status: "succeeded", Output: string(resp)}

	case ActionManual:
		return StepResult{StepNumber: step.StepNumber, Status: "skipped"}

	default:
		return StepResult{StepNumber: step.StepNumber, Status: "failed", Error: "unknown action_type"}
	}
}

func triageAnalysisFrom(ac *Context) *TriageAnalysis {
	result := ac.Result(incident.AgentTriage)
	if result == nil || len(result.Analysis) == 0 {
		return nil
	}
	var a TriageAnalysis
	if err := json.Unmarshal(result.Analysis, &a); err != nil {
		return nil
	}
	return &a
}

// riskAnalysisFrom decodes Risk's already-computed result (Risk runs before
// Remediation in the canonical priority order) so Remediation can honor an
// explicit safe-to-proceed verdict — e.g. the auto-approve resource-type
// exception — rather than recomputing its own approval gate in isolation.
func riskAnalysisFrom(ac *Context) *RiskAnalysis {
	result := ac.Result(incident.AgentRisk)
	if result == nil || len(result.Analysis) == 0 {
		return nil
	}
	var a RiskAnalysis
	if err := json.Unmarshal(result.Analysis, &a); err != nil {
		return nil
	}
	return &a
}
