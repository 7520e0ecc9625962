// Package incident defines the Incident data model, the durable store
// backing it, and the fingerprint/cooldown gate that guards duplicate
// suppression.
package incident

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowState is one node of the §4.7 state machine.
type WorkflowState string

const (
	StateDetecting WorkflowState = "DETECTING"
	StateAnalyzing WorkflowState = "ANALYZING"
	StatePlanning  WorkflowState = "PLANNING"
	StateExecuting WorkflowState = "EXECUTING"
	StateVerifying WorkflowState = "VERIFYING"
	StateCompleted WorkflowState = "COMPLETED"
	StateFailed    WorkflowState = "FAILED"
	StateCooldown  WorkflowState = "COOLDOWN"
)

// Terminal reports whether s is one of the three terminal states.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCooldown:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed edges of the §4.7 state machine.
var transitions = map[WorkflowState][]WorkflowState{
	StateDetecting: {StateAnalyzing, StateCooldown},
	StateAnalyzing: {StatePlanning, StateFailed, StateCompleted},
	StatePlanning:  {StateExecuting, StateFailed, StateCompleted},
	StateExecuting: {StateVerifying, StateCompleted, StateFailed},
	StateVerifying: {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to WorkflowState) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AgentType names one of the five specialized agents.
type AgentType string

const (
	AgentTriage         AgentType = "TRIAGE"
	AgentTelemetry      AgentType = "TELEMETRY"
	AgentRisk           AgentType = "RISK"
	AgentRemediation    AgentType = "REMEDIATION"
	AgentCommunications AgentType = "COMMUNICATIONS"
)

// AgentStatus is the outcome of an agent's run.
type AgentStatus string

const (
	AgentStatusSuccess AgentStatus = "SUCCESS"
	AgentStatusFailed  AgentStatus = "FAILED"
)

// AgentResult is embedded in the incident, never a separate row.
type AgentResult struct {
	AgentType       AgentType       `json:"agent_type"`
	Status          AgentStatus     `json:"status"`
	Analysis        json.RawMessage `json:"analysis,omitempty"`
	Execution       json.RawMessage `json:"execution,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	Error           string          `json:"error,omitempty"`
	CriticalFailure bool            `json:"critical_failure,omitempty"`
}

// Classification is the categorical severity bucket Triage derives from the
// severity score.
type Classification string

const (
	ClassificationCritical Classification = "CRITICAL"
	ClassificationHigh     Classification = "HIGH"
	ClassificationMedium   Classification = "MEDIUM"
	ClassificationLow      Classification = "LOW"
	ClassificationInfo     Classification = "INFO"
)

// ApprovalStatus tracks whether a remediation plan is waiting on a human.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalDenied   ApprovalStatus = "DENIED"
)

// Incident is the root entity (spec §3).
type Incident struct {
	CorrelationID      string        `json:"correlation_id"`
	IncidentTimestamp  time.Time     `json:"incident_timestamp"`
	ResourceType       string        `json:"resource_type"`
	ResourceID         string        `json:"resource_id"`
	Region             string        `json:"region"`
	Fingerprint        string        `json:"fingerprint,omitempty"`
	WorkflowState      WorkflowState `json:"workflow_state"`
	Classification     Classification `json:"classification,omitempty"`
	EventDetails       json.RawMessage `json:"event_details"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	TriageResult         *AgentResult `json:"triage_results,omitempty"`
	TelemetryResult      *AgentResult `json:"telemetry_results,omitempty"`
	RiskResult           *AgentResult `json:"risk_assessment,omitempty"`
	RemediationPlan      *AgentResult `json:"remediation_plan,omitempty"`
	RemediationResult    *AgentResult `json:"remediation_results,omitempty"`
	CommunicationsResult *AgentResult `json:"communication_log,omitempty"`

	DuplicateOf     string         `json:"duplicate_of,omitempty"`
	CooldownReason  string         `json:"cooldown_reason,omitempty"`
	ApprovalStatus  ApprovalStatus `json:"approval_status,omitempty"`
	ApprovalRequest json.RawMessage `json:"approval_request,omitempty"`

	RecoveryNeeded *bool  `json:"recovery_needed,omitempty"`
	FailureReason  string `json:"reason,omitempty"`
}

// ResourceKey returns "{type}#{id}", the secondary-index key.
func (i *Incident) ResourceKey() string {
	return fmt.Sprintf("%s#%s", i.ResourceType, i.ResourceID)
}

// NewCorrelationID returns a fresh "incident-<uuid>" identifier.
func NewCorrelationID() string {
	return "incident-" + uuid.NewString()
}

// ResultSlot returns the agent result slot for the named agent type, or nil
// if that agent has not run yet.
func (i *Incident) ResultSlot(t AgentType) *AgentResult {
	switch t {
	case AgentTriage:
		return i.TriageResult
	case AgentTelemetry:
		return i.TelemetryResult
	case AgentRisk:
		return i.RiskResult
	case AgentRemediation:
		return i.RemediationResult
	case AgentCommunications:
		return i.CommunicationsResult
	default:
		return nil
	}
}

// SetResultSlot writes the agent result slot for the named agent type.
// AgentRemediation's result, which carries both its analysis (the plan) and
// its execution, goes to RemediationResult; nothing writes the separate
// RemediationPlan slot.
func (i *Incident) SetResultSlot(t AgentType, r *AgentResult) {
	switch t {
	case AgentTriage:
		i.TriageResult = r
	case AgentTelemetry:
		i.TelemetryResult = r
	case AgentRisk:
		i.RiskResult = r
	case AgentRemediation:
		i.RemediationResult = r
	case AgentCommunications:
		i.CommunicationsResult = r
	}
}
