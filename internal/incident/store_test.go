package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	inc := baseIncident(NewCorrelationID(), now, StateDetecting)
	inc.Fingerprint = Fingerprint("TerminateInstances", "compute", "i-abc", "us-east-1")
	require.NoError(t, store.Put(ctx, inc))

	got, err := store.Get(ctx, inc.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, inc.CorrelationID, got.CorrelationID)
	require.Equal(t, inc.Fingerprint, got.Fingerprint)
	require.Equal(t, inc.ResourceType, got.ResourceType)
}

func TestUpdateStateLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	inc := baseIncident(NewCorrelationID(), time.Now().UTC(), StateDetecting)
	require.NoError(t, store.Put(ctx, inc))

	require.NoError(t, store.UpdateState(ctx, inc.CorrelationID, StateAnalyzing, nil))

	got, err := store.Get(ctx, inc.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, StateAnalyzing, got.WorkflowState)
	require.True(t, !got.UpdatedAt.Before(inc.UpdatedAt))
}

func TestScanByFingerprint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	fp := Fingerprint("TerminateInstances", "compute", "i-abc", "us-east-1")
	now := time.Now().UTC()
	a := baseIncident(NewCorrelationID(), now, StateCompleted)
	a.Fingerprint = fp
	require.NoError(t, store.Put(ctx, a))

	results, err := store.ScanByFingerprint(ctx, fp, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a.CorrelationID, results[0].CorrelationID)
}

func TestQueryRecentByResourceOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	older := baseIncident(NewCorrelationID(), base, StateCompleted)
	newer := baseIncident(NewCorrelationID(), base.Add(10*time.Minute), StateCompleted)
	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newer))

	results, err := store.QueryRecentByResource(ctx, older.ResourceKey(), base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, newer.CorrelationID, results[0].CorrelationID)
}
