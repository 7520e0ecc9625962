package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/dnscache"
	"github.com/stretchr/testify/require"

	"github.com/fleetops-ai/incident-orchestrator/internal/agents"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/executors"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/llm"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/notify"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/observability"
	"github.com/fleetops-ai/incident-orchestrator/internal/config"
	"github.com/fleetops-ai/incident-orchestrator/internal/coordinator"
	"github.com/fleetops-ai/incident-orchestrator/internal/events"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

func openTestStore(t *testing.T) *incident.Store {
	t.Helper()
	store, err := incident.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newEngine(store *incident.Store, roster []agents.Agent, cfg *config.Config, now time.Time) *Engine {
	return &Engine{
		Store:       store,
		Gate:        incident.NewGate(store, cfg.CooldownMinutes),
		Coordinator: coordinator.New(roster),
		Config:      cfg,
		Now:         func() time.Time { return now },
	}
}

// --- fakes -----------------------------------------------------------------

type quietObservabilityClient struct{}

func (quietObservabilityClient) GetMetricStats(ctx context.Context, namespace, name string, dims map[string]string, start, end time.Time, period time.Duration, stat string) ([]observability.Datapoint, error) {
	return []observability.Datapoint{{Timestamp: start, Value: 10}}, nil
}
func (quietObservabilityClient) LogsQuery(ctx context.Context, group string, start, end time.Time, query string) ([]observability.LogRow, error) {
	return nil, nil
}
func (quietObservabilityClient) TracesQuery(ctx context.Context, expr string, start, end time.Time) ([]observability.Trace, error) {
	return nil, nil
}

type failingObservabilityClient struct{}

func (failingObservabilityClient) GetMetricStats(ctx context.Context, namespace, name string, dims map[string]string, start, end time.Time, period time.Duration, stat string) ([]observability.Datapoint, error) {
	return nil, errors.New("telemetry backend unavailable")
}
func (failingObservabilityClient) LogsQuery(ctx context.Context, group string, start, end time.Time, query string) ([]observability.LogRow, error) {
	return nil, nil
}
func (failingObservabilityClient) TracesQuery(ctx context.Context, expr string, start, end time.Time) ([]observability.Trace, error) {
	return nil, nil
}

type fakeBuild struct{ called bool }

func (f *fakeBuild) Start(ctx context.Context, project string, env map[string]string) (string, error) {
	f.called = true
	return "build-1", nil
}

type fakeCommand struct{ called bool }

func (f *fakeCommand) Start(ctx context.Context, document string, params map[string]string) (string, error) {
	f.called = true
	return "exec-1", nil
}

type fakeEmail struct{ called bool }

func (f *fakeEmail) Send(ctx context.Context, from string, to []string, subject, body string, attachments ...notify.Attachment) (string, error) {
	f.called = true
	return "msg-1", nil
}

type fakeBroadcast struct{ called bool }

func (f *fakeBroadcast) Publish(ctx context.Context, topic, subject, body string) (string, error) {
	f.called = true
	return "bcast-1", nil
}

// stubTriage lets tests dictate Triage's output exactly, for boundary tests
// independent of the real scoring formula.
type stubTriage struct {
	analysis agents.TriageAnalysis
}

func (s *stubTriage) Type() incident.AgentType  { return incident.AgentTriage }
func (s *stubTriage) Priority() agents.Priority { return agents.PriorityCritical }
func (s *stubTriage) Analyze(ctx context.Context, ac *agents.Context) (json.RawMessage, error) {
	return json.Marshal(s.analysis)
}
func (s *stubTriage) Execute(ctx context.Context, ac *agents.Context, analysis json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "no_action"})
}

type recordingAgent struct {
	agentType incident.AgentType
	priority  agents.Priority
	ran       *bool
}

func (r *recordingAgent) Type() incident.AgentType  { return r.agentType }
func (r *recordingAgent) Priority() agents.Priority { return r.priority }
func (r *recordingAgent) Analyze(ctx context.Context, ac *agents.Context) (json.RawMessage, error) {
	*r.ran = true
	return json.Marshal(map[string]string{})
}
func (r *recordingAgent) Execute(ctx context.Context, ac *agents.Context, analysis json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "no_action"})
}

// --- helpers -----------------------------------------------------------------

type fullRosterFakes struct {
	build     *fakeBuild
	command   *fakeCommand
	email     *fakeEmail
	broadcast *fakeBroadcast
}

func newFullRoster(store *incident.Store, cfg *config.Config, now time.Time, obsClient observability.Client) ([]agents.Agent, *fullRosterFakes) {
	pool := observability.NewPool(func(region string, resolver *dnscache.Resolver) observability.Client {
		return obsClient
	})
	fakes := &fullRosterFakes{build: &fakeBuild{}, command: &fakeCommand{}, email: &fakeEmail{}, broadcast: &fakeBroadcast{}}
	roster := []agents.Agent{
		&agents.Triage{Store: store},
		&agents.Telemetry{Pool: pool, HomeRegion: "us-east-1"},
		&agents.Risk{Store: store, Config: cfg, Now: func() time.Time { return now }},
		&agents.Remediation{LLM: &llm.StubProvider{}, Executors: executors.Bundle{Build: fakes.build, Command: fakes.command}},
		&agents.Communications{LLM: &llm.StubProvider{}, Notify: notify.Bundle{Email: fakes.email, Broadcast: fakes.broadcast}, DefaultEmail: "ops@example.com"},
	}
	return roster, fakes
}

func terminateInstanceEnvelope(region string) events.Envelope {
	detail, _ := json.Marshal(map[string]any{
		"eventName":   "TerminateInstances",
		"eventSource": "ec2.amazonaws.com",
		"requestParameters": map[string]any{
			"instancesSet": map[string]any{
				"items": []map[string]any{{"instanceId": "i-abc"}},
			},
		},
	})
	return events.Envelope{DetailType: "AWS API Call via CloudTrail", Detail: detail, Region: region}
}

// --- tests -----------------------------------------------------------------

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	eng := newEngine(openTestStore(t), nil, config.Default(), time.Now().UTC())
	inc := &incident.Incident{CorrelationID: "incident-1", WorkflowState: incident.StateCompleted}

	err := eng.transition(context.Background(), inc, incident.StateAnalyzing, nil)
	require.Error(t, err)
}

func TestConfidenceGateExactThresholdProceeds(t *testing.T) {
	cfg := config.Default()
	now := time.Date(2026, time.July, 29, 10, 0, 0, 0, time.UTC)
	store := openTestStore(t)

	var telemetryRan bool
	roster := []agents.Agent{
		&stubTriage{analysis: agents.TriageAnalysis{
			Confidence:            0.8, // exactly at threshold: gate is strict '<', so this proceeds
			AnomalyClassification: agents.AnomalyFailure,
			Classification:        incident.ClassificationLow,
		}},
		&recordingAgent{agentType: incident.AgentTelemetry, priority: agents.PriorityHigh, ran: &telemetryRan},
		&agents.Risk{Store: store, Config: cfg, Now: func() time.Time { return now }},
		&agents.Remediation{LLM: &llm.StubProvider{}, Executors: executors.Bundle{Build: &fakeBuild{}, Command: &fakeCommand{}}},
		&agents.Communications{LLM: &llm.StubProvider{}, Notify: notify.Bundle{Email: &fakeEmail{}, Broadcast: &fakeBroadcast{}}, DefaultEmail: "ops@example.com"},
	}

	eng := newEngine(store, roster, cfg, now)
	inc := &incident.Incident{
		CorrelationID: incident.NewCorrelationID(), ResourceType: "compute", ResourceID: "i-abc",
		IncidentTimestamp: now, WorkflowState: incident.StateDetecting, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Put(context.Background(), inc))

	outcome, err := eng.Run(context.Background(), inc)
	require.NoError(t, err)
	require.True(t, telemetryRan, "confidence exactly at threshold must not short-circuit the roster")
	require.Equal(t, incident.StateCompleted, outcome.Incident.WorkflowState)
	require.Empty(t, outcome.Reason)
}

func TestConfidenceGateBelowThresholdCompletesEarly(t *testing.T) {
	cfg := config.Default()
	now := time.Date(2026, time.July, 29, 10, 0, 0, 0, time.UTC)
	store := openTestStore(t)

	var telemetryRan bool
	roster := []agents.Agent{
		&stubTriage{analysis: agents.TriageAnalysis{
			Confidence:            0.5,
			AnomalyClassification: agents.AnomalyFailure,
			Classification:        incident.ClassificationLow,
		}},
		&recordingAgent{agentType: incident.AgentTelemetry, priority: agents.PriorityHigh, ran: &telemetryRan},
	}

	eng := newEngine(store, roster, cfg, now)
	inc := &incident.Incident{
		CorrelationID: incident.NewCorrelationID(), ResourceType: "compute", ResourceID: "i-abc",
		IncidentTimestamp: now, WorkflowState: incident.StateDetecting, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Put(context.Background(), inc))

	outcome, err := eng.Run(context.Background(), inc)
	require.NoError(t, err)
	require.False(t, telemetryRan, "low-confidence FAILURE/TAMPERING verdict must short-circuit before later agents")
	require.Equal(t, incident.StateCompleted, outcome.Incident.WorkflowState)
	require.Equal(t, "low_confidence", outcome.Reason)
	require.NotNil(t, outcome.Incident.RecoveryNeeded)
	require.False(t, *outcome.Incident.RecoveryNeeded)
}

func TestScenarioCleanDeletePathCompletes(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.AutoApproveResourceTypes = []string{"compute"}
	now := time.Date(2026, time.July, 29, 10, 0, 0, 0, time.UTC)
	store := openTestStore(t)

	roster, fakes := newFullRoster(store, cfg, now, quietObservabilityClient{})
	eng := newEngine(store, roster, cfg, now)

	outcome, err := eng.Handle(context.Background(), terminateInstanceEnvelope("us-east-1"), incident.NewCorrelationID(), now.Format(time.RFC3339))
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, incident.StateCompleted, outcome.Incident.WorkflowState)
	require.True(t, fakes.build.called)
	require.True(t, fakes.email.called)
}

func TestScenarioDuplicateWithinCooldownSuppresses(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.AutoApproveResourceTypes = []string{"compute"}
	now := time.Date(2026, time.July, 29, 10, 0, 0, 0, time.UTC)
	store := openTestStore(t)

	roster, _ := newFullRoster(store, cfg, now, quietObservabilityClient{})
	eng := newEngine(store, roster, cfg, now)

	env := terminateInstanceEnvelope("us-east-1")
	first, err := eng.Handle(context.Background(), env, incident.NewCorrelationID(), now.Format(time.RFC3339))
	require.NoError(t, err)
	require.Equal(t, incident.StateCompleted, first.Incident.WorkflowState)

	later := now.Add(30 * time.Second)
	eng.Now = func() time.Time { return later }
	second, err := eng.Handle(context.Background(), env, incident.NewCorrelationID(), later.Format(time.RFC3339))
	require.NoError(t, err)
	require.Equal(t, incident.StateCooldown, second.Incident.WorkflowState)
	require.Contains(t, second.Incident.CooldownReason, first.Incident.CorrelationID)
}

func TestScenarioUnknownEnvelopeIgnored(t *testing.T) {
	cfg := config.Default()
	eng := newEngine(openTestStore(t), nil, cfg, time.Now().UTC())

	outcome, err := eng.Handle(context.Background(), events.Envelope{DetailType: "Garbage"}, incident.NewCorrelationID(), time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
	require.Nil(t, outcome)
}

func TestScenarioBlockedWindowPersistsPendingApproval(t *testing.T) {
	cfg := config.Default()
	fridayEvening := time.Date(2026, time.July, 31, 18, 0, 0, 0, time.UTC) // blocked window
	store := openTestStore(t)

	roster, fakes := newFullRoster(store, cfg, fridayEvening, quietObservabilityClient{})
	eng := newEngine(store, roster, cfg, fridayEvening)

	outcome, err := eng.Handle(context.Background(), terminateInstanceEnvelope("us-east-1"), incident.NewCorrelationID(), fridayEvening.Format(time.RFC3339))
	require.NoError(t, err)
	require.NotNil(t, outcome)

	riskResult := outcome.Incident.RiskResult
	require.NotNil(t, riskResult)
	var riskAnalysis agents.RiskAnalysis
	require.NoError(t, json.Unmarshal(riskResult.Analysis, &riskAnalysis))
	require.False(t, riskAnalysis.ChangeWindowOK)
	require.True(t, riskAnalysis.ApprovalRequired)

	require.Equal(t, incident.ApprovalPending, outcome.Incident.ApprovalStatus)
	require.False(t, fakes.build.called)
	require.False(t, fakes.command.called)
}

func TestScenarioTelemetryFailureDoesNotStopRoster(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.AutoApproveResourceTypes = []string{"compute"}
	now := time.Date(2026, time.July, 29, 10, 0, 0, 0, time.UTC)
	store := openTestStore(t)

	roster, _ := newFullRoster(store, cfg, now, failingObservabilityClient{})
	eng := newEngine(store, roster, cfg, now)

	outcome, err := eng.Handle(context.Background(), terminateInstanceEnvelope("us-east-1"), incident.NewCorrelationID(), now.Format(time.RFC3339))
	require.NoError(t, err)
	require.NotNil(t, outcome)

	require.Equal(t, incident.AgentStatusFailed, outcome.Incident.TelemetryResult.Status)
	require.NotNil(t, outcome.Incident.RiskResult, "risk must still run after telemetry's non-critical failure")
	require.NotNil(t, outcome.Incident.RemediationResult, "remediation must still run after telemetry's non-critical failure")
	require.Equal(t, incident.StateFailed, outcome.Incident.WorkflowState)
	require.Equal(t, "agent_failure", outcome.Reason)
}
