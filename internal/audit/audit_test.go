package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	require.NoError(t, l.Append(Record{
		Component:     "triage",
		CorrelationID: "incident-abc",
		Message:       "classified incident",
	}))
	require.NoError(t, l.Append(Record{
		Component:     "triage",
		CorrelationID: "incident-abc",
		Message:       "second entry",
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), time.Now().UTC().Format("2006-01-02"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "classified incident")
	require.Contains(t, string(data), "second entry")
}

func TestSubscribeReceivesAppendedRecords(t *testing.T) {
	l := New(t.TempDir())
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	require.NoError(t, l.Append(Record{Component: "risk", Message: "evaluated"}))

	select {
	case r := <-ch:
		require.Equal(t, "evaluated", r.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber record")
	}
}
