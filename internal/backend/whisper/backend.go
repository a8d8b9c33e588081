package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ekisa-team/sttd/internal/backend"
	"github.com/ekisa-team/sttd/internal/mapsafe"
)

const (
	BackendName        = backend.BackendProviderWhisperCPP
	DefaultBackendPort = 8082
	DefaultBinary      = "whisper-server"
)

// ServerController starts and stops the whisper-server process.
type ServerController interface {
	StartServer(ctx context.Context, cfg backend.ServerConfig) error
	StopServer(name string, port int) error
}

// Options configures the whisper.cpp backend.
type Options struct {
	BinPath      string
	Port         int
	Threads      int
	ReadyTimeout time.Duration

	// BaseURL overrides http://127.0.0.1:<Port>.
	BaseURL string

	// OnExit is called after whisper-server dies on its own and the model is unloaded.
	OnExit func(err error)
}

// Backend implements backend.Backend on top of a whisper.cpp server process.
type Backend struct {
	servers   ServerController
	client    *http.Client
	opts      Options
	baseURL   string
	modelPath string
	mu        sync.RWMutex
}

// TranscriptionRequest holds the form fields sent to whisper-server.
type TranscriptionRequest struct {
	Language     string
	Prompt       string
	Temperature  float64
	BeamSize     int
	BestOf       int
	Translate    bool
	NoTimestamps bool
}

// NewBackend creates a new Backend instance.
func NewBackend(servers ServerController, opts Options) *Backend {
	if opts.BinPath == "" {
		opts.BinPath = DefaultBinary
	}
	if opts.Port == 0 {
		opts.Port = DefaultBackendPort
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", opts.Port)
	}

	return &Backend{
		servers: servers,
		opts:    opts,
		baseURL: baseURL,
		// Transcription can take longer
		client: &http.Client{},
	}
}

// Provider implements backend.Backend.
func (b *Backend) Provider() backend.BackendProvider {
	return BackendName
}

// Load implements backend.Backend. It starts whisper-server with modelPath once;
// repeated calls with the same path do nothing.
func (b *Backend) Load(ctx context.Context, modelPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modelPath != "" {
		if b.modelPath == modelPath {
			return nil
		}
		return fmt.Errorf("whisper.cpp already serves %s, cannot load %s", b.modelPath, modelPath)
	}

	args := []string{
		"--model", modelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(b.opts.Port),
		"--convert",
	}
	if b.opts.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.opts.Threads))
	}

	start := time.Now()
	if err := b.servers.StartServer(ctx, backend.ServerConfig{
		Name:         string(BackendName),
		BinPath:      b.opts.BinPath,
		Args:         args,
		Port:         b.opts.Port,
		HealthPath:   "/health",
		ReadyTimeout: b.opts.ReadyTimeout,
		OnExit:       b.serverExited,
	}); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	b.modelPath = modelPath
	slog.Info("Whisper model loaded", "model", modelPath, "elapsed", time.Since(start))

	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modelPath == "" {
		return nil
	}
	b.modelPath = ""

	err := b.servers.StopServer(string(BackendName), b.opts.Port)
	if errors.Is(err, backend.ErrServerNotFound) {
		return nil
	}

	return err
}

// serverExited unloads the model so Infer reports ErrNotLoaded.
func (b *Backend) serverExited(err error) {
	b.mu.Lock()
	modelPath := b.modelPath
	b.modelPath = ""
	b.mu.Unlock()

	slog.Error("Whisper model unloaded", "model", modelPath, "error", err)

	if b.opts.OnExit != nil {
		b.opts.OnExit(err)
	}
}

// Infer implements backend.Backend. req.Input is the path of the audio file;
// the output is whisper-server's verbose JSON, unmodified.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	b.mu.RLock()
	loaded := b.modelPath
	b.mu.RUnlock()

	if loaded == "" {
		return nil, backend.ErrNotLoaded
	}

	body, contentType, err := b.buildForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	start := time.Now()

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	elapsed := time.Since(start).Seconds()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	// whisper-server reports some failures as 200 with {"error": ...}
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if probe.Error != "" {
		return nil, fmt.Errorf("whisper.cpp: %s", probe.Error)
	}

	return &backend.Response{
		Output: bytes.NewReader(payload),
		Metadata: &backend.ResponseMetadata{
			Provider:        b.Provider(),
			Model:           loaded,
			Timestamp:       time.Now(),
			DurationSeconds: elapsed,
			OutputSizeBytes: int64(len(payload)),
			BackendSpecific: map[string]any{
				"audio": req.Input,
			},
		},
	}, nil
}

// ResolveModelPath implements backend.ModelLocator: a file is used as is, a
// directory is searched for ggml weights.
func (b *Backend) ResolveModelPath(basePath string) (string, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return "", fmt.Errorf("model path: %w", err)
	}
	if !info.IsDir() {
		return basePath, nil
	}

	matches, err := filepath.Glob(filepath.Join(basePath, "ggml-*.bin"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no ggml-*.bin weights in %s", basePath)
	}
	sort.Strings(matches)

	return matches[0], nil
}

// buildForm opens the audio reference and builds the multipart request body.
func (b *Backend) buildForm(req *backend.Request) (io.Reader, string, error) {
	if req.Input == "" {
		return nil, "", errors.New("audio reference is empty")
	}

	audio, err := os.Open(req.Input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer audio.Close()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", filepath.Base(req.Input))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %w", err)
	}

	if err := b.addTranscriptionParams(writer, b.buildTranscriptionRequest(req)); err != nil {
		return nil, "", fmt.Errorf("failed to add parameters: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &requestBody, writer.FormDataContentType(), nil
}

// buildTranscriptionRequest builds a TranscriptionRequest from a backend.Request.
func (b *Backend) buildTranscriptionRequest(req *backend.Request) *TranscriptionRequest {
	p := req.Parameters

	return &TranscriptionRequest{
		Language:     mapsafe.Get(p, "language", "auto"),
		Temperature:  mapsafe.Get(p, "temperature", 0.0),
		Translate:    mapsafe.Get(p, "translate", false),
		NoTimestamps: mapsafe.Get(p, "no_timestamps", false),
		Prompt:       mapsafe.Get(p, "prompt", ""),
		BeamSize:     mapsafe.Get(p, "beam_size", -1),
		BestOf:       mapsafe.Get(p, "best_of", 2),
	}
}

// addTranscriptionParams adds transcription parameters to the multipart writer.
func (b *Backend) addTranscriptionParams(w *multipart.Writer, req *TranscriptionRequest) error {
	params := map[string]string{
		"language":        req.Language,
		"response_format": "verbose_json",
		"temperature":     fmt.Sprintf("%.2f", req.Temperature),
		"translate":       strconv.FormatBool(req.Translate),
		"no_timestamps":   strconv.FormatBool(req.NoTimestamps),
	}

	if req.BeamSize >= 0 {
		params["beam_size"] = strconv.Itoa(req.BeamSize)
	}
	if req.BestOf > 0 {
		params["best_of"] = strconv.Itoa(req.BestOf)
	}
	if req.Prompt != "" {
		params["prompt"] = req.Prompt
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := w.WriteField(key, params[key]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	return nil
}
