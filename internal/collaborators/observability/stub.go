package observability

import (
	"context"
	"time"
)

// StubClient is the fail-open default when no observability backend is
// configured for a region: every query returns zero rows rather than an
// error, following the same "absent data means compliant" posture Risk's
// PolicyClient uses for an unconfigured policy engine. Telemetry still runs
// and reports a clean health score instead of failing the whole incident on
// missing infrastructure wiring.
type StubClient struct{}

func (StubClient) GetMetricStats(ctx context.Context, namespace, name string, dims map[string]string, start, end time.Time, period time.Duration, stat string) ([]Datapoint, error) {
	return nil, nil
}

func (StubClient) LogsQuery(ctx context.Context, group string, start, end time.Time, query string) ([]LogRow, error) {
	return nil, nil
}

func (StubClient) TracesQuery(ctx context.Context, expr string, start, end time.Time) ([]Trace, error) {
	return nil, nil
}
