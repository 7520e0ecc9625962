package agents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetops-ai/incident-orchestrator/internal/incident"
)

func TestClassifyBySeverityBoundaries(t *testing.T) {
	require.Equal(t, incident.ClassificationCritical, classifyBySeverity(9))
	require.Equal(t, incident.ClassificationCritical, classifyBySeverity(10))
	require.Equal(t, incident.ClassificationHigh, classifyBySeverity(8))
	require.Equal(t, incident.ClassificationHigh, classifyBySeverity(7))
	require.Equal(t, incident.ClassificationMedium, classifyBySeverity(6))
	require.Equal(t, incident.ClassificationMedium, classifyBySeverity(5))
	require.Equal(t, incident.ClassificationLow, classifyBySeverity(4))
	require.Equal(t, incident.ClassificationLow, classifyBySeverity(3))
	require.Equal(t, incident.ClassificationInfo, classifyBySeverity(2))
}

func TestSeverityBaseByVerb(t *testing.T) {
	require.Equal(t, 10, severityBase("TerminateInstances"))
	require.Equal(t, 8, severityBase("StopInstances"))
	require.Equal(t, 6, severityBase("ModifyInstanceAttribute"))
	require.Equal(t, 3, severityBase("StartInstances"))
	require.Equal(t, 5, severityBase("DescribeInstances"))
}

func TestNoiseScoreClampedAndSuppressThreshold(t *testing.T) {
	recent := make([]*incident.Incident, 6)
	for i := range recent {
		recent[i] = &incident.Incident{WorkflowState: incident.StateCompleted}
	}
	score := noiseScore(recent, "autoscaling.amazonaws.com", 0)
	require.InDelta(t, 0.6, score, 0.0001) // 0.3 (>=5) + 0.2 (>0.8 resolved) + 0.1 (noisy source)
	require.False(t, score > 0.7)
}

func TestNoiseScorePatternFrequencyContributes(t *testing.T) {
	score := noiseScore(nil, "", 1)
	require.InDelta(t, 0.2, score, 0.0001)
}
