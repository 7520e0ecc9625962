// Package metrics registers every metric named in spec §6.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus collectors for every component named in
// spec §6's "Metrics Emitted" table.
type Metrics struct {
	TriageIncidentClassification *prometheus.CounterVec
	TriageSeverityScore          prometheus.Histogram
	TriageNoiseScore             prometheus.Histogram
	TriageDuplicateIncidents     prometheus.Counter

	TelemetryAnomaliesDetected prometheus.Counter
	TelemetryHealthScore       prometheus.Histogram

	RiskRiskScore         prometheus.Histogram
	RiskApprovalRequired  prometheus.Counter
	RiskPolicyCompliance  *prometheus.CounterVec

	RemediationAttempts     *prometheus.CounterVec
	RemediationStepsExecuted prometheus.Counter

	CommunicationsNotificationsSent   prometheus.Counter
	CommunicationsNotificationsFailed prometheus.Counter

	EngineIncidentCount     *prometheus.CounterVec
	EngineRecoveryDuration  *prometheus.HistogramVec
}

// New registers every metric against reg and returns the bundle. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default
// global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriageIncidentClassification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage", Name: "incident_classification_total",
		}, []string{"classification"}),
		TriageSeverityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triage", Name: "severity_score", Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		TriageNoiseScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triage", Name: "noise_score", Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TriageDuplicateIncidents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triage", Name: "duplicate_incidents_total",
		}),

		TelemetryAnomaliesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry", Name: "anomalies_detected_total",
		}),
		TelemetryHealthScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telemetry", Name: "health_score", Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		RiskRiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "risk", Name: "risk_score", Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RiskApprovalRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "risk", Name: "approval_required_total",
		}),
		RiskPolicyCompliance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "risk", Name: "policy_compliance_total",
		}, []string{"compliant"}),

		RemediationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remediation", Name: "attempts_total",
		}, []string{"status"}),
		RemediationStepsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remediation", Name: "steps_executed_total",
		}),

		CommunicationsNotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communications", Name: "notifications_sent_total",
		}),
		CommunicationsNotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communications", Name: "notifications_failed_total",
		}),

		EngineIncidentCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Name: "incident_count_total",
		}, []string{"resource_type", "classification"}),
		EngineRecoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine", Name: "recovery_duration_seconds", Buckets: prometheus.DefBuckets,
		}, []string{"resource_type", "success"}),
	}

	reg.MustRegister(
		m.TriageIncidentClassification, m.TriageSeverityScore, m.TriageNoiseScore, m.TriageDuplicateIncidents,
		m.TelemetryAnomaliesDetected, m.TelemetryHealthScore,
		m.RiskRiskScore, m.RiskApprovalRequired, m.RiskPolicyCompliance,
		m.RemediationAttempts, m.RemediationStepsExecuted,
		m.CommunicationsNotificationsSent, m.CommunicationsNotificationsFailed,
		m.EngineIncidentCount, m.EngineRecoveryDuration,
	)
	return m
}
