package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ekisa-team/sttd/internal/config"
	"github.com/ekisa-team/sttd/internal/config/source"
	"github.com/ekisa-team/sttd/internal/envvar"
	"github.com/ekisa-team/sttd/internal/xfs"
)

// DownloaderFunc resolves the downloader for a source type.
type DownloaderFunc func(ctx context.Context, sourceType config.SourceType) (source.Downloader, error)

// Manager fetches the models assigned to services and keeps them in a registry.
type Manager struct {
	registry    *Registry
	downloaders DownloaderFunc
	mu          sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDownloaders replaces source.GetDownloader.
func WithDownloaders(fn DownloaderFunc) ManagerOption {
	return func(m *Manager) {
		m.downloaders = fn
	}
}

// NewManager creates a new Manager instance.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		downloaders: source.GetDownloader,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Registry returns the model registry, or nil before LoadModelsFromConfig.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.registry
}

// LoadModelsFromConfig downloads every model assigned to the STT service and
// registers it. It runs once per process; later calls return ErrModelsAlreadyReady.
func (m *Manager) LoadModelsFromConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry != nil {
		return ErrModelsAlreadyReady
	}

	modelsPath := resolveModelsPath(cfg)
	if err := source.EnsureModelsDirectory(modelsPath); err != nil {
		return fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
	}

	registry := NewRegistry()
	for _, modelID := range cfg.Services.STT.Models {
		if _, ok := registry.Get(modelID); ok {
			continue
		}

		modelConfig, ok := cfg.Models[modelID]
		if !ok {
			return fmt.Errorf("%w: %s is assigned to stt but not configured", ErrModelNotFound, modelID)
		}

		modelSource, err := modelConfig.GetSource()
		if err != nil {
			return fmt.Errorf("failed to get model source for %s: %w", modelID, err)
		}

		downloader, err := m.downloaders(ctx, modelSource.Type())
		if err != nil {
			return fmt.Errorf("failed to get downloader for %s: %w", modelID, err)
		}

		downloadPath, cached, err := downloader.Download(ctx, &modelConfig, modelsPath)
		if err != nil {
			return fmt.Errorf("failed to download model %s into %s: %w", modelID, modelsPath, err)
		}

		path := downloadPath
		if modelConfig.File != "" {
			path = filepath.Join(downloadPath, modelConfig.File)
		}

		registry.Set(NewModelInstance(&modelConfig, modelID, path))
		slog.Info("Model added to registry", "model_id", modelID, "path", path, "cached", cached)
	}

	m.registry = registry

	return nil
}

// resolveModelsPath returns the path to the models directory.
// Precedence:
// 1. STTD_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func resolveModelsPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.SttdModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}
