package notify

import "context"

// unconfiguredTransportError marks an unwired notification transport,
// mirroring llm.StubProvider: callers (Communications.Execute) already
// tolerate a transport error on either leg.
type unconfiguredTransportError struct{ transport string }

func (e *unconfiguredTransportError) Error() string {
	return "notify: no " + e.transport + " transport configured"
}

// StubEmail always fails Send, exercising Communications' fallback to the
// broadcast transport. Stands in for the real mail provider (spec Non-goals:
// notification vendor is an external collaborator).
type StubEmail struct{}

func (StubEmail) Send(ctx context.Context, from string, to []string, subject, body string, attachments ...Attachment) (string, error) {
	return "", &unconfiguredTransportError{transport: "email"}
}

// StubBroadcast always fails Publish, for the same reason.
type StubBroadcast struct{}

func (StubBroadcast) Publish(ctx context.Context, topic, subject, body string) (string, error) {
	return "", &unconfiguredTransportError{transport: "broadcast"}
}
