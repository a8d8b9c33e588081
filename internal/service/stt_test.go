package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/sttd/internal/backend"
	"github.com/ekisa-team/sttd/internal/backend/whisper"
	"github.com/ekisa-team/sttd/internal/config"
	"github.com/ekisa-team/sttd/internal/model"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() backend.BackendProvider {
	return backend.BackendProviderWhisperCPP
}

func (m *MockBackend) Load(ctx context.Context, modelPath string) error {
	return m.Called(ctx, modelPath).Error(0)
}

func (m *MockBackend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*backend.Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	return m.Called().Error(0)
}

// LocatingBackend also resolves model paths.
type LocatingBackend struct {
	MockBackend
}

func (l *LocatingBackend) ResolveModelPath(basePath string) (string, error) {
	args := l.Called(basePath)
	return args.String(0), args.Error(1)
}

func newFixture(t *testing.T, b backend.Backend) (*STT, *model.Registry) {
	t.Helper()

	backends := backend.NewRegistry()
	require.NoError(t, backends.Register(b))

	cfg := config.Default()
	small := cfg.Models[config.DefaultModelID]

	models := model.NewRegistry()
	models.Set(model.NewModelInstance(&small, config.DefaultModelID, "/models/ggml-small.bin"))

	return NewSTT(backends, models, cfg.Services.STT), models
}

func TestSTT_LoadOnce(t *testing.T) {
	b := new(MockBackend)
	b.On("Load", mock.Anything, "/models/ggml-small.bin").Return(nil).Once()

	stt, models := newFixture(t, b)
	assert.False(t, stt.Ready())

	require.NoError(t, stt.Load(context.Background()))
	require.NoError(t, stt.Load(context.Background()))

	assert.True(t, stt.Ready())
	m, _ := models.Get(config.DefaultModelID)
	assert.Equal(t, model.ModelStatusLoaded, m.GetStatus())

	b.AssertNumberOfCalls(t, "Load", 1)
}

func TestSTT_LoadUsesModelLocator(t *testing.T) {
	b := new(LocatingBackend)
	b.On("ResolveModelPath", "/models/ggml-small.bin").Return("/models/resolved.bin", nil).Once()
	b.On("Load", mock.Anything, "/models/resolved.bin").Return(nil).Once()

	stt, _ := newFixture(t, b)
	require.NoError(t, stt.Load(context.Background()))

	b.AssertExpectations(t)
}

func TestSTT_LoadFailureIsSticky(t *testing.T) {
	b := new(MockBackend)
	b.On("Load", mock.Anything, mock.Anything).Return(errors.New("no such file")).Once()

	stt, models := newFixture(t, b)

	err := stt.Load(context.Background())
	assert.ErrorContains(t, err, "no such file")
	assert.Equal(t, err, stt.Load(context.Background()))

	m, _ := models.Get(config.DefaultModelID)
	assert.Equal(t, model.ModelStatusFailed, m.GetStatus())
	assert.False(t, stt.Ready())

	_, err = stt.Transcribe(context.Background(), "/tmp/sample.wav")
	assert.ErrorIs(t, err, backend.ErrNotLoaded)
	b.AssertNotCalled(t, "Infer", mock.Anything, mock.Anything)
}

func TestSTT_TranscribeForwardsReferenceAndLanguage(t *testing.T) {
	b := new(MockBackend)
	b.On("Load", mock.Anything, mock.Anything).Return(nil)

	want := &backend.Response{Output: strings.NewReader(`{"text":"привет"}`)}
	b.On("Infer", mock.Anything, &backend.Request{
		ModelPath:  "/models/ggml-small.bin",
		Input:      "/tmp/sample.wav",
		Parameters: map[string]any{"language": "ru"},
	}).Return(want, nil).Once()

	stt, _ := newFixture(t, b)
	require.NoError(t, stt.Load(context.Background()))

	got, err := stt.Transcribe(context.Background(), "/tmp/sample.wav")
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, "ru", stt.Language())

	b.AssertExpectations(t)
}

func TestSTT_TranscribeBackendError(t *testing.T) {
	b := new(MockBackend)
	b.On("Load", mock.Anything, mock.Anything).Return(nil)
	b.On("Infer", mock.Anything, mock.Anything).Return(nil, errors.New("inference failed"))

	stt, _ := newFixture(t, b)
	require.NoError(t, stt.Load(context.Background()))

	_, err := stt.Transcribe(context.Background(), "/tmp/broken.mp3")
	assert.EqualError(t, err, "inference failed")
}

func TestSTT_MissingPieces(t *testing.T) {
	stt := NewSTT(backend.NewRegistry(), model.NewRegistry(), config.STTServiceConfig{})
	assert.ErrorIs(t, stt.Load(context.Background()), ErrNoModelAssigned)
	_, err := stt.Transcribe(context.Background(), "a.wav")
	assert.ErrorIs(t, err, ErrNoModelAssigned)
	assert.Equal(t, config.DefaultLanguage, stt.Language())

	stt = NewSTT(backend.NewRegistry(), model.NewRegistry(), config.STTServiceConfig{Models: []string{"small"}})
	assert.ErrorIs(t, stt.Load(context.Background()), model.ErrModelNotFound)

	cfg := config.Default()
	small := cfg.Models[config.DefaultModelID]
	models := model.NewRegistry()
	models.Set(model.NewModelInstance(&small, "small", "/m"))

	stt = NewSTT(backend.NewRegistry(), models, cfg.Services.STT)
	assert.ErrorIs(t, stt.Load(context.Background()), backend.ErrBackendNotFound)
}

func TestSTT_MarkFailed(t *testing.T) {
	b := new(MockBackend)
	b.On("Load", mock.Anything, mock.Anything).Return(nil)

	stt, models := newFixture(t, b)
	require.NoError(t, stt.Load(context.Background()))
	require.True(t, stt.Ready())

	stt.MarkFailed(backend.ErrServerExited)

	assert.False(t, stt.Ready())
	m, _ := models.Get(config.DefaultModelID)
	assert.Equal(t, model.ModelStatusFailed, m.GetStatus())

	_, err := stt.Transcribe(context.Background(), "/tmp/sample.wav")
	assert.ErrorIs(t, err, backend.ErrNotLoaded)
	b.AssertNotCalled(t, "Infer", mock.Anything, mock.Anything)
}

func TestSTT_WhisperServerExitMakesServiceUnready(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(health.Close)

	_, p, err := net.SplitHostPort(health.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-server")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nsleep 0.5\n"), 0o755))
	weights := filepath.Join(dir, "ggml-small.bin")
	require.NoError(t, os.WriteFile(weights, []byte("weights"), 0o644))

	servers := backend.NewServerManager()
	t.Cleanup(servers.StopAll)

	var stt *STT
	exited := make(chan struct{})

	backends := backend.NewRegistry()
	require.NoError(t, backends.Register(whisper.NewBackend(servers, whisper.Options{
		BinPath:      bin,
		Port:         port,
		ReadyTimeout: 5 * time.Second,
		OnExit: func(err error) {
			stt.MarkFailed(err)
			close(exited)
		},
	})))

	cfg := config.Default()
	small := cfg.Models[config.DefaultModelID]
	models := model.NewRegistry()
	models.Set(model.NewModelInstance(&small, config.DefaultModelID, weights))

	stt = NewSTT(backends, models, cfg.Services.STT)
	require.NoError(t, stt.Load(context.Background()))
	require.True(t, stt.Ready())

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("whisper-server exit was not reported")
	}

	assert.False(t, stt.Ready())
	_, err = stt.Transcribe(context.Background(), "/tmp/sample.wav")
	assert.ErrorIs(t, err, backend.ErrNotLoaded)

	assert.NoError(t, backends.Close())
}
