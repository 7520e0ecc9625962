package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/executors"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

type failingLLM struct{}

func (failingLLM) Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return "", errors.New("unavailable")
}
func (failingLLM) Name() string { return "failing" }

type fakeBuildExecutor struct{ called bool }

func (f *fakeBuildExecutor) Start(ctx context.Context, project string, env map[string]string) (string, error) {
	f.called = true
	return "build-123", nil
}

func TestRemediationFallsBackWhenLLMFails(t *testing.T) {
	r := &Remediation{LLM: failingLLM{}}
	inc := &incident.Incident{CorrelationID: "incident-1", ResourceType: "compute", ResourceID: "i-abc"}
	ac := &Context{Incident: inc}

	raw, err := r.Analyze(context.Background(), ac)
	require.NoError(t, err)

	var analysis RemediationAnalysis
	require.NoError(t, json.Unmarshal(raw, &analysis))
	require.True(t, analysis.FallbackUsed)
	require.Len(t, analysis.Steps, 1)
	require.Equal(t, ActionImageBuild, analysis.Steps[0].ActionType)
}

func TestRemediationRequiresApprovalForCritical(t *testing.T) {
	r := &Remediation{LLM: failingLLM{}}
	inc := &incident.Incident{CorrelationID: "incident-1", ResourceType: "compute", ResourceID: "i-abc"}

	triageResult := &incident.AgentResult{}
	triageAnalysis, _ := json.Marshal(TriageAnalysis{Classification: incident.ClassificationCritical})
	triageResult.Analysis = triageAnalysis

	ac := &Context{Incident: inc, PreviousResults: map[incident.AgentType]*incident.AgentResult{
		incident.AgentTriage: triageResult,
	}}

	raw, err := r.Analyze(context.Background(), ac)
	require.NoError(t, err)

	var analysis RemediationAnalysis
	require.NoError(t, json.Unmarshal(raw, &analysis))
	require.True(t, analysis.RequiresApproval)
	require.Equal(t, RemediationRiskHigh, analysis.RiskLevel)
}

func TestRemediationExecutePendingApprovalDoesNotDispatch(t *testing.T) {
	build := &fakeBuildExecutor{}
	r := &Remediation{Executors: executors.Bundle{Build: build}}

	analysis := RemediationAnalysis{RequiresApproval: true, Steps: []RunbookStep{{StepNumber: 1, ActionType: ActionImageBuild}}}
	raw, _ := json.Marshal(analysis)

	execRaw, err := r.Execute(context.Background(), &Context{Incident: &incident.Incident{}}, raw)
	require.NoError(t, err)

	var execution RemediationExecution
	require.NoError(t, json.Unmarshal(execRaw, &execution))
	require.True(t, execution.PendingApproval)
	require.False(t, build.called)
}

func TestRemediationExecuteStopsOnFirstFailure(t *testing.T) {
	r := &Remediation{Executors: executors.Bundle{}} // no executors configured -> every dispatch fails

	analysis := RemediationAnalysis{Steps: []RunbookStep{
		{StepNumber: 1, ActionType: ActionImageBuild, Command: "rebuild"},
		{StepNumber: 2, ActionType: ActionManual},
	}}
	raw, _ := json.Marshal(analysis)

	execRaw, err := r.Execute(context.Background(), &Context{Incident: &incident.Incident{}}, raw)
	require.NoError(t, err)

	var execution RemediationExecution
	require.NoError(t, json.Unmarshal(execRaw, &execution))
	require.False(t, execution.Succeeded)
	require.Len(t, execution.StepResults, 1)
}
