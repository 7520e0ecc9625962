package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultBlocksFridayEvening(t *testing.T) {
	cfg := Default()

	friday18 := time.Date(2026, time.July, 31, 18, 0, 0, 0, time.UTC)
	require.True(t, cfg.BlockedAt(friday18))

	fridayMidnight := time.Date(2026, time.July, 31, 23, 59, 0, 0, time.UTC)
	require.True(t, cfg.BlockedAt(fridayMidnight))

	saturdayMidnight := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	require.False(t, cfg.BlockedAt(saturdayMidnight))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.CooldownMinutes)
	require.Equal(t, 0.8, cfg.ConfidenceThreshold)
}
