// Package notify defines the Notification collaborator contracts (spec §6)
// and a PDF report exporter enrichment.
package notify

import "context"

// Attachment is a file attached to an outgoing email — the CRITICAL/HIGH
// incident report PDF is the one producer today (see ReportExporter).
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// EmailTransport sends a single email, optionally with attachments.
type EmailTransport interface {
	Send(ctx context.Context, from string, to []string, subject, body string, attachments ...Attachment) (messageID string, err error)
}

// BroadcastTransport publishes to a topic (e.g. an SNS topic ARN).
type BroadcastTransport interface {
	Publish(ctx context.Context, topic, subject, body string) (messageID string, err error)
}

// Bundle groups the two notification transports, following the "injected
// collaborator handle" pattern from SPEC_FULL.md §9 rather than globals.
type Bundle struct {
	Email     EmailTransport
	Broadcast BroadcastTransport
}
