package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/notify"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

type fakeEmail struct {
	err error
	id  string
}

func (f *fakeEmail) Send(ctx context.Context, from string, to []string, subject, body string, attachments ...notify.Attachment) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeBroadcast struct{ id string }

func (f *fakeBroadcast) Publish(ctx context.Context, topic, subject, body string) (string, error) {
	return f.id, nil
}

func TestCommunicationsEscalatesForCritical(t *testing.T) {
	c := &Communications{LLM: failingLLM{}, DefaultEmail: "ops@example.com", EscalationEmails: []string{"oncall@example.com"}}

	triageResult := &incident.AgentResult{}
	triageAnalysis, _ := json.Marshal(TriageAnalysis{Classification: incident.ClassificationCritical})
	triageResult.Analysis = triageAnalysis

	ac := &Context{
		Incident: &incident.Incident{CorrelationID: "incident-1", ResourceType: "compute", ResourceID: "i-abc"},
		PreviousResults: map[incident.AgentType]*incident.AgentResult{
			incident.AgentTriage: triageResult,
		},
	}

	raw, err := c.Analyze(context.Background(), ac)
	require.NoError(t, err)

	var analysis CommunicationsAnalysis
	require.NoError(t, json.Unmarshal(raw, &analysis))
	require.Contains(t, analysis.Recipients, "oncall@example.com")
	require.True(t, analysis.TemplatedUsed)
}

func TestCommunicationsSendsBothTransportsForCritical(t *testing.T) {
	c := &Communications{
		Notify: notify.Bundle{Email: &fakeEmail{id: "msg-1"}, Broadcast: &fakeBroadcast{id: "bcast-1"}},
	}

	triageResult := &incident.AgentResult{}
	triageAnalysis, _ := json.Marshal(TriageAnalysis{Classification: incident.ClassificationCritical})
	triageResult.Analysis = triageAnalysis

	ac := &Context{
		Incident: &incident.Incident{CorrelationID: "incident-1"},
		PreviousResults: map[incident.AgentType]*incident.AgentResult{
			incident.AgentTriage: triageResult,
		},
	}

	analysis := CommunicationsAnalysis{Summary: "test", Recipients: []string{"ops@example.com"}}
	raw, _ := json.Marshal(analysis)

	execRaw, err := c.Execute(context.Background(), ac, raw)
	require.NoError(t, err)

	var execution CommunicationsExecution
	require.NoError(t, json.Unmarshal(execRaw, &execution))
	require.Equal(t, "msg-1", execution.EmailMessageID)
	require.Equal(t, "bcast-1", execution.BroadcastMessageID)
}

func TestCommunicationsFallsBackToBroadcastOnEmailFailure(t *testing.T) {
	c := &Communications{
		Notify: notify.Bundle{Email: &fakeEmail{err: errors.New("smtp down")}, Broadcast: &fakeBroadcast{id: "bcast-1"}},
	}

	ac := &Context{Incident: &incident.Incident{CorrelationID: "incident-1"}}
	analysis := CommunicationsAnalysis{Summary: "test", Recipients: []string{"ops@example.com"}}
	raw, _ := json.Marshal(analysis)

	execRaw, err := c.Execute(context.Background(), ac, raw)
	require.NoError(t, err)

	var execution CommunicationsExecution
	require.NoError(t, json.Unmarshal(execRaw, &execution))
	require.Empty(t, execution.EmailMessageID)
	require.Equal(t, "bcast-1", execution.BroadcastMessageID)
}
