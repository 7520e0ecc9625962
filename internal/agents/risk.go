package agents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetops-ai/incident-orchestrator/internal/config"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

// PolicyClient queries the external policy collaborator. Absent data means
// compliant — fail-open (spec §4.6).
type PolicyClient interface {
	IsCompliant(ctx context.Context, resourceType, resourceID string) (known bool, compliant bool, err error)
}

// BlastRadius is the qualitative reach of a change (glossary).
type BlastRadius string

const (
	BlastLocalized BlastRadius = "localized"
	BlastRegional  BlastRadius = "regional"
	BlastGlobal    BlastRadius = "global"
)

// RiskAnalysis is Risk's Analyze output.
type RiskAnalysis struct {
	ChangeWindowOK    bool        `json:"change_window_ok"`
	PolicyCompliant   bool        `json:"policy_compliant"`
	ErrorBudgetExhausted bool     `json:"error_budget_exhausted"`
	BlastRadius       BlastRadius `json:"blast_radius"`
	RiskScore         float64     `json:"risk_score"`
	ApprovalRequired  bool        `json:"approval_required"`
	SafeToProceed     bool        `json:"safe_to_proceed"`
}

// Risk is the HIGH-priority agent (stable-sorted after Telemetry): checks
// change window, policy compliance, error budget, and blast radius.
type Risk struct {
	Store  *incident.Store
	Policy PolicyClient
	Config *config.Config
	Now    func() time.Time
}

func (r *Risk) Type() incident.AgentType { return incident.AgentRisk }
func (r *Risk) Priority() Priority       { return PriorityHigh }

func (r *Risk) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Risk) Analyze(ctx context.Context, ac *Context) (json.RawMessage, error) {
	inc := ac.Incident

	changeWindowOK := !r.Config.BlockedAt(r.now())

	policyCompliant := true
	if r.Policy != nil {
		known, compliant, err := r.Policy.IsCompliant(ctx, inc.ResourceType, inc.ResourceID)
		if err != nil {
			return nil, err
		}
		if known {
			policyCompliant = compliant
		}
	}

	hourAgo := r.now().Add(-time.Hour)
	criticalLastHour, err := r.Store.QueryByResourceType(ctx, inc.ResourceType, incident.ClassificationCritical, incident.StateCompleted, 50)
	if err != nil {
		return nil, err
	}
	var criticalCount int
	for _, c := range criticalLastHour {
		if c.IncidentTimestamp.After(hourAgo) {
			criticalCount++
		}
	}
	budgetExhausted := criticalCount > 5

	blastRadius := BlastLocalized
	remediationSteps := remediationStepCount(ac)
	if remediationSteps > 5 || inc.ResourceType == "relational-db" || inc.ResourceType == "table-store" {
		blastRadius = BlastRegional
	}

	var score float64
	if !changeWindowOK {
		score += 0.3
	}
	if !policyCompliant {
		score += 0.4
	}
	if budgetExhausted {
		score += 0.2
	}
	switch blastRadius {
	case BlastLocalized:
		score += 0.1
	case BlastRegional:
		score += 0.2
	case BlastGlobal:
		score += 0.3
	}
	score = clampMax(score, 1.0)

	approvalRequired := score > 0.5 || !changeWindowOK || !policyCompliant
	safeToProceed := score < 0.5 && changeWindowOK && policyCompliant

	if r.autoApproves(inc.ResourceType) {
		approvalRequired = false
		safeToProceed = true
	}

	analysis := RiskAnalysis{
		ChangeWindowOK:       changeWindowOK,
		PolicyCompliant:      policyCompliant,
		ErrorBudgetExhausted: budgetExhausted,
		BlastRadius:          blastRadius,
		RiskScore:            score,
		ApprovalRequired:     approvalRequired,
		SafeToProceed:        safeToProceed,
	}
	return json.Marshal(analysis)
}

func (r *Risk) Execute(ctx context.Context, ac *Context, analysis json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "no_action"})
}

// autoApproves reports whether resourceType is on the configured
// auto-approval list (the "test-resource exception" of spec §8 scenario 1 —
// an explicit config escape hatch rather than a hard-coded demo branch).
func (r *Risk) autoApproves(resourceType string) bool {
	for _, t := range r.Config.Risk.AutoApproveResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

// remediationStepCount peeks at any already-computed remediation plan (if
// Remediation happened to run before Risk in a future reordering); in the
// canonical order Risk runs before Remediation, so this is normally 0 and
// blast radius falls back to the resource-type check.
func remediationStepCount(ac *Context) int {
	result := ac.Result(incident.AgentRemediation)
	if result == nil || len(result.Analysis) == 0 {
		return 0
	}
	var plan RemediationAnalysis
	if err := json.Unmarshal(result.Analysis, &plan); err != nil {
		return 0
	}
	return len(plan.Steps)
}

func clampMax(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
