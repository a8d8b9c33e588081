package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// DefaultHost listens on every interface, IPv4 and IPv6.
	DefaultHost = "::"

	// DefaultLanguage is the language code every transcription is run with.
	DefaultLanguage = "ru"

	// DefaultModelID is the model assigned to the STT service out of the box.
	DefaultModelID = "small"

	defaultHTTPPort       = 8080
	defaultGRPCPort       = 8081
	defaultWhisperPort    = 8082
	defaultWhisperBin     = "whisper-server"
	defaultReadyTimeout   = 120
	defaultLogLevel       = "info"
	defaultLogFile        = "logs/sttd.log"
	defaultConfigFilename = "config.yaml"
)

// DefaultConfigFile returns the default location of the config file.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigPath(), defaultConfigFilename)
}

// DefaultConfigPath returns the default path for the sttd config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "sttd", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "sttd")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "sttd")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "sttd")
		}
		return filepath.Join(home, ".config", "sttd")
	}
}

// DefaultModelsPath returns the default path for the sttd models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "sttd", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "sttd", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "sttd", "models")
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "sttd", "models")
		}
		return filepath.Join(home, ".cache", "sttd", "models")
	}
}

// Default returns the built-in configuration: whisper.cpp "small", Russian, port 8080.
func Default() *Config {
	small := ModelConfig{
		Type:    "stt",
		Backend: "whisper.cpp",
		File:    "ggml-small.bin",
		Tags:    []string{"multilingual", "timestamps"},
	}
	small.SetHuggingFaceSource(HuggingFaceSource{
		Repo:    "ggerganov/whisper.cpp",
		Include: []string{"ggml-small.bin"},
	})

	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:     DefaultHost,
			HTTPPort: defaultHTTPPort,
			GRPCPort: defaultGRPCPort,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
			File:  defaultLogFile,
		},
		Backends: BackendsConfig{
			WhisperCPP: WhisperCPPConfig{
				BinPath:             defaultWhisperBin,
				Port:                defaultWhisperPort,
				ReadyTimeoutSeconds: defaultReadyTimeout,
			},
		},
		Models: map[string]ModelConfig{
			DefaultModelID: small,
		},
		Services: ServicesConfig{
			STT: STTServiceConfig{
				Models:   []string{DefaultModelID},
				Language: DefaultLanguage,
			},
		},
	}
}
