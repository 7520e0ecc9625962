package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/llm"
	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/notify"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

// CommunicationsAnalysis is Communications' Analyze output: the rendered
// summary and recipient list.
type CommunicationsAnalysis struct {
	Summary        string   `json:"summary"`
	Recipients     []string `json:"recipients"`
	TemplatedUsed  bool     `json:"templated_used"`
}

// CommunicationsExecution is Communications' Execute output.
type CommunicationsExecution struct {
	EmailMessageID     string `json:"email_message_id,omitempty"`
	BroadcastMessageID string `json:"broadcast_message_id,omitempty"`
	Failed             bool   `json:"failed"`
}

// Communications is the LOW-priority agent: summarizes and notifies.
type Communications struct {
	LLM              llm.Provider
	Notify           notify.Bundle
	Report           notify.ReportExporter
	DefaultEmail     string
	SenderEmail      string
	EscalationEmails []string
}

func (c *Communications) Type() incident.AgentType { return incident.AgentCommunications }
func (c *Communications) Priority() Priority       { return PriorityLow }

func (c *Communications) Analyze(ctx context.Context, ac *Context) (json.RawMessage, error) {
	inc := ac.Incident
	triage := triageAnalysisFrom(ac)

	classification := incident.ClassificationInfo
	if triage != nil {
		classification = triage.Classification
	}

	summary, templated := c.summarize(ctx, inc, classification)

	recipients := []string{c.DefaultEmail}
	if classification == incident.ClassificationCritical {
		recipients = append(recipients, c.EscalationEmails...)
	}

	analysis := CommunicationsAnalysis{
		Summary:       summary,
		Recipients:    recipients,
		TemplatedUsed: templated,
	}
	return json.Marshal(analysis)
}

func (c *Communications) summarize(ctx context.Context, inc *incident.Incident, classification incident.Classification) (string, bool) {
	prompt := fmt.Sprintf(
		"Summarize incident %s (resource %s#%s, classification %s) for a human operator. "+
			"Respond in JSON with key: summary.",
		inc.CorrelationID, inc.ResourceType, inc.ResourceID, classification)

	raw, err := c.LLM.Invoke(ctx, prompt, 512, 0.3)
	if err == nil {
		var parsed struct {
			Summary string `json:"summary"`
		}
		if llm.ExtractJSON(raw, &parsed) && parsed.Summary != "" {
			return parsed.Summary, false
		}
	}

	return fmt.Sprintf("Incident %s on %s#%s classified %s; workflow state %s.",
		inc.CorrelationID, inc.ResourceType, inc.ResourceID, classification, inc.WorkflowState), true
}

func (c *Communications) Execute(ctx context.Context, ac *Context, analysisRaw json.RawMessage) (json.RawMessage, error) {
	var analysis CommunicationsAnalysis
	if err := json.Unmarshal(analysisRaw, &analysis); err != nil {
		return nil, err
	}

	inc := ac.Incident
	triage := triageAnalysisFrom(ac)
	classification := incident.ClassificationInfo
	if triage != nil {
		classification = triage.Classification
	}

	subject := fmt.Sprintf("[%s] Incident %s", classification, inc.CorrelationID)
	execution := CommunicationsExecution{}
	bothTransports := classification == incident.ClassificationCritical || classification == incident.ClassificationHigh

	var attachments []notify.Attachment
	if bothTransports {
		pdf, err := c.Report.Render(notify.IncidentSummary{
			CorrelationID:  inc.CorrelationID,
			ResourceType:   inc.ResourceType,
			ResourceID:     inc.ResourceID,
			Classification: string(classification),
			FinalState:     string(inc.WorkflowState),
			Summary:        analysis.Summary,
			GeneratedAt:    time.Now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Str("correlation_id", inc.CorrelationID).Msg("incident report render failed, sending without attachment")
		} else {
			attachments = append(attachments, notify.Attachment{
				Filename:    fmt.Sprintf("incident-%s.pdf", inc.CorrelationID),
				ContentType: "application/pdf",
				Data:        pdf,
			})
		}
	}

	emailID, emailErr := c.Notify.Email.Send(ctx, c.SenderEmail, analysis.Recipients, subject, analysis.Summary, attachments...)

	if emailErr == nil {
		execution.EmailMessageID = emailID
	}
	if emailErr != nil || bothTransports {
		broadcastID, broadcastErr := c.Notify.Broadcast.Publish(ctx, inc.ResourceType, subject, analysis.Summary)
		if broadcastErr == nil {
			execution.BroadcastMessageID = broadcastID
		} else if emailErr != nil {
			execution.Failed = true
		}
	}

	return json.Marshal(execution)
}
