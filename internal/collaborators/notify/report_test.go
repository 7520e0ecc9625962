package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderProducesNonEmptyPDF(t *testing.T) {
	exporter := ReportExporter{}
	data, err := exporter.Render(IncidentSummary{
		CorrelationID:  "incident-abc",
		ResourceType:   "compute",
		ResourceID:     "i-abc",
		Classification: "CRITICAL",
		FinalState:     "COMPLETED",
		Summary:        "Instance terminated and restored via image build.",
		GeneratedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, "%PDF", string(data[:4]))
}
