package backend

import (
	"context"
	"io"
	"time"
)

// BackendProvider is a string identifier for a backend provider.
type BackendProvider string

const (
	BackendProviderWhisperCPP BackendProvider = "whisper.cpp"
)

// Backend defines the core interface for all inference backends.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() BackendProvider

	// Load makes the model at modelPath ready for inference. It is called once per process.
	Load(ctx context.Context, modelPath string) error

	// Infer executes inference and returns the complete result.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// Close cleans up resources.
	Close() error
}

// Request encapsulates all parameters for an inference call.
type Request struct {
	// ModelPath is the path to the model file.
	ModelPath string

	// Input references the data to run inference on (for STT, an audio file path).
	Input string

	// Parameters contains backend-specific inference parameters.
	Parameters map[string]any
}

// Response contains the result of an inference operation.
type Response struct {
	// Output is the raw output data as produced by the backend.
	Output io.Reader

	// Metadata contains backend-specific information.
	Metadata *ResponseMetadata
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	Provider        BackendProvider `json:"provider"`
	Model           string          `json:"model"`
	Timestamp       time.Time       `json:"timestamp"`
	DurationSeconds float64         `json:"inference_time_seconds"`
	OutputSizeBytes int64           `json:"output_size_bytes"`
	BackendSpecific map[string]any  `json:"backend_specific,omitempty"`
}
