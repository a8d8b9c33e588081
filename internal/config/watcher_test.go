package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: \"1\"\nlogging:\n  level: info\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, "", func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, "info", w.Snapshot().Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nlogging:\n  level: warn\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "warn", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	assert.Equal(t, "warn", w.Snapshot().Logging.Level)
	assert.Equal(t, uint32(1), w.ReloadCount())
}

func TestWatcher_KeepsSnapshotOnInvalidReload(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: \"1\"\n")

	failed := make(chan error, 1)
	w, err := NewWatcher(path, "", func(cfg *Config, err error) {
		if err == nil {
			return
		}
		select {
		case failed <- err:
		default:
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	before := w.Snapshot()
	require.NoError(t, os.WriteFile(path, []byte("version: \"2\"\n"), 0o644))

	select {
	case err := <-failed:
		assert.ErrorContains(t, err, "validation failed")
	case <-time.After(5 * time.Second):
		t.Fatal("invalid config was not reported")
	}

	assert.Same(t, before, w.Snapshot())
}

func TestNewWatcher_InvalidInitialConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: \"9\"\n")

	_, err := NewWatcher(path, "", func(*Config, error) {})
	assert.ErrorContains(t, err, "failed to load initial config")
}

func TestWatcher_CloseTwice(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "version: \"1\"\n")

	w, err := NewWatcher(path, "", func(*Config, error) {})
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
