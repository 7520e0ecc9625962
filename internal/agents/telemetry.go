package agents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetops-ai/incident-orchestrator/internal/collaborators/observability"
	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

// TelemetryAnalysis is Telemetry's Analyze output.
type TelemetryAnalysis struct {
	AnomaliesDetected []string `json:"anomalies_detected"`
	CPUAvg            float64  `json:"cpu_avg"`
	ErrorCountAvg     float64  `json:"error_count_avg"`
	LogErrorCount     int      `json:"log_error_count"`
	HealthScore       float64  `json:"telemetry_health_score"`
}

// Telemetry is the HIGH-priority agent: reads metrics and logs for a
// 15-minute window ending at the incident's event time. It does not query
// traces.
type Telemetry struct {
	Pool        *observability.Pool
	HomeRegion  string
}

func (t *Telemetry) Type() incident.AgentType { return incident.AgentTelemetry }
func (t *Telemetry) Priority() Priority       { return PriorityHigh }

func (t *Telemetry) client(region string) observability.Client {
	if region == "" {
		region = t.HomeRegion
	}
	return t.Pool.For(region)
}

func (t *Telemetry) Analyze(ctx context.Context, ac *Context) (json.RawMessage, error) {
	inc := ac.Incident
	client := t.client(inc.Region)

	end := inc.IncidentTimestamp
	start := end.Add(-15 * time.Minute)

	cpuPoints, err := client.GetMetricStats(ctx, "system", "CPUUtilization",
		map[string]string{"resource_id": inc.ResourceID}, start, end, time.Minute, "Average")
	if err != nil {
		return nil, err
	}
	errorPoints, err := client.GetMetricStats(ctx, "system", "ErrorCount",
		map[string]string{"resource_id": inc.ResourceID}, start, end, time.Minute, "Average")
	if err != nil {
		return nil, err
	}
	logRows, err := client.LogsQuery(ctx, inc.ResourceID, start, end, "level=ERROR")
	if err != nil {
		return nil, err
	}

	cpuAvg := average(cpuPoints)
	errAvg := averageCount(errorPoints)
	logErrors := len(logRows)

	var anomalies []string
	if cpuAvg > 80 {
		anomalies = append(anomalies, "high_cpu")
	}
	if errAvg > 5 {
		anomalies = append(anomalies, "high_error_rate")
	}
	if logErrors > 10 {
		anomalies = append(anomalies, "log_errors")
	}

	health := clamp01(1.0 - 0.1*float64(len(anomalies)))

	analysis := TelemetryAnalysis{
		AnomaliesDetected: anomalies,
		CPUAvg:            cpuAvg,
		ErrorCountAvg:     errAvg,
		LogErrorCount:     logErrors,
		HealthScore:       health,
	}
	return json.Marshal(analysis)
}

func (t *Telemetry) Execute(ctx context.Context, ac *Context, analysis json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "no_action"})
}

func average(points []observability.Datapoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

func averageCount(points []observability.Datapoint) float64 { return average(points) }
