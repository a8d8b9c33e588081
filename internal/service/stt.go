package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ekisa-team/sttd/internal/backend"
	"github.com/ekisa-team/sttd/internal/config"
	"github.com/ekisa-team/sttd/internal/model"
)

// ErrNoModelAssigned is returned when the STT service has no model to run.
var ErrNoModelAssigned = errors.New("no model assigned to the stt service")

// STT is a service abstraction for speech-to-text.
type STT struct {
	backends *backend.Registry
	models   *model.Registry
	assigned []string
	language string
	loadOnce sync.Once
	loadErr  error
}

// NewSTT creates a new STT service.
func NewSTT(backends *backend.Registry, models *model.Registry, cfg config.STTServiceConfig) *STT {
	language := cfg.Language
	if language == "" {
		language = config.DefaultLanguage
	}

	return &STT{
		backends: backends,
		models:   models,
		assigned: cfg.Models,
		language: language,
	}
}

// Language returns the language code every transcription runs with.
func (s *STT) Language() string {
	return s.language
}

// Load loads every assigned model into its backend. Only the first call does
// any work; later calls return the first call's result.
func (s *STT) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.loadErr = s.load(ctx)
	})

	return s.loadErr
}

func (s *STT) load(ctx context.Context) error {
	if len(s.assigned) == 0 {
		return ErrNoModelAssigned
	}

	for _, id := range s.assigned {
		m, b, err := s.resolve(id)
		if err != nil {
			return err
		}

		path := m.Path
		if locator, ok := b.(backend.ModelLocator); ok {
			if path, err = locator.ResolveModelPath(m.Path); err != nil {
				m.SetError(err)
				return fmt.Errorf("failed to locate model %s: %w", id, err)
			}
		}

		m.SetStatus(model.ModelStatusLoading)
		if err := b.Load(ctx, path); err != nil {
			m.SetError(err)
			return fmt.Errorf("failed to load model %s: %w", id, err)
		}
		m.SetStatus(model.ModelStatusLoaded)

		slog.Info("Model ready", "model_id", id, "backend", b.Provider(), "path", path)
	}

	return nil
}

// Transcribe transcribes the audio referenced by audio with the primary STT model
// and the configured language. The backend output is returned as produced.
func (s *STT) Transcribe(ctx context.Context, audio string) (*backend.Response, error) {
	if len(s.assigned) == 0 {
		return nil, ErrNoModelAssigned
	}

	m, b, err := s.resolve(s.assigned[0])
	if err != nil {
		return nil, err
	}

	if m.GetStatus() != model.ModelStatusLoaded {
		return nil, fmt.Errorf("model %s: %w", m.ID, backend.ErrNotLoaded)
	}

	return b.Infer(ctx, &backend.Request{
		ModelPath: m.Path,
		Input:     audio,
		Parameters: map[string]any{
			"language": s.language,
		},
	})
}

// MarkFailed marks every assigned model failed. Models are never reloaded,
// so the service stays unready afterwards.
func (s *STT) MarkFailed(err error) {
	for _, id := range s.assigned {
		if m, ok := s.models.Get(id); ok {
			m.SetError(err)
		}
	}

	slog.Error("STT service unavailable", "error", err)
}

// Ready reports whether every assigned model is loaded.
func (s *STT) Ready() bool {
	if len(s.assigned) == 0 {
		return false
	}

	for _, id := range s.assigned {
		m, ok := s.models.Get(id)
		if !ok || m.GetStatus() != model.ModelStatusLoaded {
			return false
		}
	}

	return true
}

func (s *STT) resolve(id string) (*model.ModelInstance, backend.Backend, error) {
	m, ok := s.models.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, id)
	}

	b, ok := s.backends.Get(backend.BackendProvider(m.Config.Backend))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", backend.ErrBackendNotFound, m.Config.Backend)
	}

	return m, b, nil
}
