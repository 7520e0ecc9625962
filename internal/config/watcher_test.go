package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	orig := debounceWrite
	debounceWrite = 10 * time.Millisecond
	t.Cleanup(func() { debounceWrite = orig })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown_minutes: 5\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("cooldown_minutes: 9\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 9, cfg.CooldownMinutes)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	orig := debounceWrite
	debounceWrite = 10 * time.Millisecond
	t.Cleanup(func() { debounceWrite = orig })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown_minutes: 5\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("onReload should not fire for a file that fails to parse")
	case <-time.After(200 * time.Millisecond):
	}
}
