package agents

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
	"github.com/fleetops-ai/incident-orchestrator/internal/patterns"
	"github.com/fleetops-ai/incident-orchestrator/internal/safety"
)

// noisyEventSources is the "known-noisy list" spec §4.6 references.
var noisyEventSources = map[string]bool{
	"autoscaling.amazonaws.com": true,
	"health.amazonaws.com":      true,
}

// resourceTypesWithSeverityBump get +1 severity (spec §4.6).
var resourceTypesWithSeverityBump = map[string]bool{
	"compute":        true,
	"relational-db":  true,
	"table-store":    true,
	"function":       true,
}

// AnomalyClassification is Triage's event-health verdict, distinct from its
// severity Classification — this is the field the workflow engine's
// confidence gate inspects (spec §4.7).
type AnomalyClassification string

const (
	AnomalyNone      AnomalyClassification = "NONE"
	AnomalyFailure   AnomalyClassification = "FAILURE"
	AnomalyTampering AnomalyClassification = "TAMPERING"
)

// TriageAnalysis is Triage's Analyze output.
type TriageAnalysis struct {
	Fingerprint           string                 `json:"fingerprint"`
	IsDuplicate           bool                   `json:"is_duplicate"`
	DuplicateOf           string                 `json:"duplicate_of,omitempty"`
	SeverityScore          int                    `json:"severity_score"`
	Classification        incident.Classification `json:"classification"`
	NoiseScore            float64                `json:"noise_score"`
	ShouldSuppress         bool                   `json:"should_suppress"`
	BusinessImpact         string                 `json:"business_impact"`
	Confidence             float64                `json:"confidence"`
	AnomalyClassification  AnomalyClassification  `json:"anomaly_classification"`
}

// Triage is the CRITICAL-priority agent: fingerprints, dedups, scores
// severity, classifies, scores noise.
type Triage struct {
	Store *incident.Store

	// Patterns tracks per-resource-type event frequency with an EMA (spec
	// §3/§4.6) and feeds it into noiseScore as a historical-noise input
	// alongside the Incident Store's own recent-incident query. Nil-safe:
	// a Triage built without one just skips that term.
	Patterns *patterns.Detector
}

func (t *Triage) Type() incident.AgentType { return incident.AgentTriage }
func (t *Triage) Priority() Priority       { return PriorityCritical }

func (t *Triage) Analyze(ctx context.Context, ac *Context) (json.RawMessage, error) {
	inc := ac.Incident
	fp := inc.Fingerprint

	since := time.Now().UTC().Add(-24 * time.Hour)
	dups, err := t.Store.ScanByFingerprint(ctx, fp, since)
	if err != nil {
		return nil, err
	}
	var isDuplicate bool
	var duplicateOf string
	for _, d := range dups {
		if d.CorrelationID == inc.CorrelationID {
			continue
		}
		isDuplicate = true
		duplicateOf = d.CorrelationID
		break
	}

	eventName := eventNameFromDetails(inc.EventDetails)
	base := severityBase(eventName)
	if resourceTypesWithSeverityBump[inc.ResourceType] {
		base = minInt(base+1, 10)
	}

	severity := base
	if len(ac.SimilarIncidents) > 0 {
		mean := meanHistoricalSeverity(ac.SimilarIncidents)
		severity = int(math.Round((float64(base) + mean) / 2))
	}
	classification := classifyBySeverity(severity)

	recent, err := t.Store.QueryRecentByResource(ctx, inc.ResourceKey(), since, 50)
	if err != nil {
		return nil, err
	}

	var patternFreq float64
	if t.Patterns != nil {
		p := t.Patterns.RecordEvent(inc.ResourceType, eventName, 1, inc.IncidentTimestamp)
		if p.OccurrenceCount > 1 {
			patternFreq = clamp01(p.AvgCount / 10)
		}
	}
	noise := noiseScore(recent, eventSourceFromDetails(inc.EventDetails), patternFreq)

	businessImpact := "low"
	if inc.ResourceType == "relational-db" || inc.ResourceType == "table-store" {
		businessImpact = "high"
	}

	confidence := 0.9 - 0.1*noise
	if inc.ResourceType == "unknown" {
		confidence -= 0.2
	}
	confidence = clamp01(confidence)

	anomaly := AnomalyNone
	switch safety.ClassifyVerb(eventName) {
	case safety.VerbDestructive:
		if inc.ResourceType == "unknown" {
			anomaly = AnomalyTampering
		} else {
			anomaly = AnomalyFailure
		}
	}

	analysis := TriageAnalysis{
		Fingerprint:           fp,
		IsDuplicate:           isDuplicate,
		DuplicateOf:           duplicateOf,
		SeverityScore:         severity,
		Classification:        classification,
		NoiseScore:            noise,
		ShouldSuppress:        noise > 0.7,
		BusinessImpact:        businessImpact,
		Confidence:            confidence,
		AnomalyClassification: anomaly,
	}
	return json.Marshal(analysis)
}

// Execute has nothing to mutate infrastructure-wise; Triage is analysis-only.
func (t *Triage) Execute(ctx context.Context, ac *Context, analysis json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "no_action"})
}

func severityBase(eventName string) int {
	switch safety.ClassifyVerb(eventName) {
	case safety.VerbDestructive:
		return 10
	case safety.VerbDisabling:
		return 8
	case safety.VerbModifying:
		return 6
	case safety.VerbCreating:
		return 3
	default:
		return 5
	}
}

// classifyBySeverity maps a severity score to a classification bucket,
// boundary-testable at {9,7,5,3} (spec §4.6/§8).
func classifyBySeverity(score int) incident.Classification {
	switch {
	case score >= 9:
		return incident.ClassificationCritical
	case score >= 7:
		return incident.ClassificationHigh
	case score >= 5:
		return incident.ClassificationMedium
	case score >= 3:
		return incident.ClassificationLow
	default:
		return incident.ClassificationInfo
	}
}

// noiseScore combines three historical-noise signals (spec §4.6): the
// Incident Store's own recent-activity count and resolution rate for this
// resource, the known-noisy event source list, and patternFreq — the
// Pattern store's EMA-tracked frequency for this resource type/event,
// normalized to [0,1] (a 10/window average counts as maximally noisy).
func noiseScore(recent []*incident.Incident, eventSource string, patternFreq float64) float64 {
	var score float64
	if len(recent) >= 5 {
		score += 0.3
	}
	if len(recent) > 0 {
		resolved := 0
		for _, r := range recent {
			if r.WorkflowState == incident.StateCompleted {
				resolved++
			}
		}
		if float64(resolved)/float64(len(recent)) > 0.8 {
			score += 0.2
		}
	}
	if noisyEventSources[eventSource] {
		score += 0.1
	}
	score += 0.2 * patternFreq
	return clamp01(score)
}

func meanHistoricalSeverity(similar []*incident.Incident) float64 {
	var sum float64
	var n int
	for _, s := range similar {
		if s.TriageResult == nil || len(s.TriageResult.Analysis) == 0 {
			continue
		}
		var a TriageAnalysis
		if err := json.Unmarshal(s.TriageResult.Analysis, &a); err != nil {
			continue
		}
		sum += float64(a.SeverityScore)
		n++
	}
	if n == 0 {
		return 5
	}
	return sum / float64(n)
}

func eventNameFromDetails(details json.RawMessage) string {
	var d struct {
		EventName string `json:"eventName"`
	}
	_ = json.Unmarshal(details, &d)
	return d.EventName
}

func eventSourceFromDetails(details json.RawMessage) string {
	var d struct {
		EventSource string `json:"eventSource"`
	}
	_ = json.Unmarshal(details, &d)
	return d.EventSource
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
