package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/sttd/internal/config"
)

func TestWithPortOverrides_LeavesFileConfigUntouched(t *testing.T) {
	fileCfg := config.Default()

	cfg := withPortOverrides(fileCfg, 9000, 9001)

	assert.Equal(t, "[::]:9000", cfg.Server.HTTPAddr())
	assert.Equal(t, "[::]:9001", cfg.Server.GRPCAddr())
	assert.Equal(t, "[::]:8080", fileCfg.Server.HTTPAddr())
	assert.Equal(t, "[::]:8081", fileCfg.Server.GRPCAddr())

	assert.Equal(t, config.Default().Server, withPortOverrides(fileCfg, 0, 0).Server)
}

func TestReloader_PortFlagsAreNotReportedAsChanges(t *testing.T) {
	level := new(slog.LevelVar)
	r := newReloader(level)

	fileCfg := config.Default()
	r.baseline.Store(fileCfg)
	_ = withPortOverrides(fileCfg, 9000, 0)

	reloaded := config.Default()
	reloaded.Logging.Level = "debug"

	r.onReload(reloaded, nil)

	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Empty(t, r.pending(reloaded))
}

func TestReloader_ReportsRestartSections(t *testing.T) {
	r := newReloader(new(slog.LevelVar))

	reloaded := config.Default()
	reloaded.Server.HTTPPort = 9000
	assert.Empty(t, r.pending(reloaded))

	r.baseline.Store(config.Default())
	assert.Contains(t, r.pending(reloaded), "server")
}

func TestReloader_KeepsLevelOnError(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	newReloader(level).onReload(nil, errors.New("invalid YAML"))

	assert.Equal(t, slog.LevelWarn, level.Level())
}

func TestLoadConfig_BaselineIsTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))

	r := newReloader(new(slog.LevelVar))

	fileCfg, watcher, err := loadConfig(path, "", r)
	require.NoError(t, err)
	require.NotNil(t, watcher)
	t.Cleanup(func() { _ = watcher.Close() })

	cfg := withPortOverrides(fileCfg, 9000, 9001)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)

	reloaded, err := config.LoadAndValidate(path, "")
	require.NoError(t, err)
	assert.Empty(t, r.pending(reloaded))
}
