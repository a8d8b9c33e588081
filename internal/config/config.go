package config

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Config holds the main configuration for the application.
type Config struct {
	Version  string                 `json:"version"            yaml:"version"`
	Server   ServerConfig           `json:"server,omitempty"   yaml:"server,omitempty"`
	Logging  LoggingConfig          `json:"logging,omitempty"  yaml:"logging,omitempty"`
	Storage  StorageConfig          `json:"storage,omitempty"  yaml:"storage,omitempty"`
	Backends BackendsConfig         `json:"backends,omitempty" yaml:"backends,omitempty"`
	Models   map[string]ModelConfig `json:"models"             yaml:"models"`
	Services ServicesConfig         `json:"services"           yaml:"services"`
}

// ServerConfig holds the listener configuration.
type ServerConfig struct {
	Host     string `json:"host,omitempty"      yaml:"host,omitempty"`
	HTTPPort int    `json:"http_port,omitempty" yaml:"http_port,omitempty"`
	GRPCPort int    `json:"grpc_port,omitempty" yaml:"grpc_port,omitempty"`
}

// HTTPAddr returns the HTTP listen address.
func (s ServerConfig) HTTPAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
}

// GRPCAddr returns the gRPC listen address.
func (s ServerConfig) GRPCAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.GRPCPort))
}

// LoggingConfig holds the logging configuration.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"   yaml:"level,omitempty"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
}

// StorageConfig holds configuration for caching and auto-download.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	WhisperCPP WhisperCPPConfig `json:"whisper.cpp,omitempty" yaml:"whisper.cpp,omitempty"`
}

// WhisperCPPConfig configures the whisper.cpp server process.
type WhisperCPPConfig struct {
	BinPath             string `json:"bin_path,omitempty"              yaml:"bin_path,omitempty"`
	Port                int    `json:"port,omitempty"                  yaml:"port,omitempty"`
	Threads             int    `json:"threads,omitempty"               yaml:"threads,omitempty"`
	ReadyTimeoutSeconds int    `json:"ready_timeout_seconds,omitempty" yaml:"ready_timeout_seconds,omitempty"`
}

// ReadyTimeout returns how long to wait for the server process to come up.
func (w WhisperCPPConfig) ReadyTimeout() time.Duration {
	return time.Duration(w.ReadyTimeoutSeconds) * time.Second
}

// ModelConfig holds configuration for a specific model.
type ModelConfig struct {
	Source  SourceConfig `json:"source"         yaml:"source"`
	Type    string       `json:"type"           yaml:"type"`
	Backend string       `json:"backend"        yaml:"backend"`
	File    string       `json:"file,omitempty" yaml:"file,omitempty"`
	Tags    []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// ServicesConfig holds configuration for all services.
type ServicesConfig struct {
	STT STTServiceConfig `json:"stt" yaml:"stt"`
}

// STTServiceConfig assigns models to the speech-to-text service.
type STTServiceConfig struct {
	Models   []string `json:"models"             yaml:"models"`
	Language string   `json:"language,omitempty" yaml:"language,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// GetSource returns the active source for the model.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, errors.New("no source configured for model")
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}
