package notify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// ReportExporter renders an incident summary to PDF for the CRITICAL/HIGH
// email attachment path (enrichment beyond spec.md's plain-text
// notification — see SPEC_FULL.md §4.6 Communications).
type ReportExporter struct{}

// IncidentSummary is the minimal set of fields a rendered report needs;
// kept separate from incident.Incident to avoid an import cycle between
// notify and incident.
type IncidentSummary struct {
	CorrelationID  string
	ResourceType   string
	ResourceID     string
	Classification string
	FinalState     string
	Summary        string
	GeneratedAt    time.Time
}

// Render produces a single-page PDF report and returns its bytes.
func (ReportExporter) Render(s IncidentSummary) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(190, 10, "Incident Report")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	for _, line := range []string{
		fmt.Sprintf("Correlation ID: %s", s.CorrelationID),
		fmt.Sprintf("Resource: %s#%s", s.ResourceType, s.ResourceID),
		fmt.Sprintf("Classification: %s", s.Classification),
		fmt.Sprintf("Final state: %s", s.FinalState),
		fmt.Sprintf("Generated: %s", s.GeneratedAt.Format(time.RFC3339)),
	} {
		pdf.Cell(190, 8, line)
		pdf.Ln(8)
	}

	pdf.Ln(4)
	pdf.MultiCell(190, 6, s.Summary, "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
