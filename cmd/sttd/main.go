package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ekisa-team/sttd/internal/backend"
	"github.com/ekisa-team/sttd/internal/backend/whisper"
	"github.com/ekisa-team/sttd/internal/config"
	"github.com/ekisa-team/sttd/internal/env"
	"github.com/ekisa-team/sttd/internal/envvar"
	"github.com/ekisa-team/sttd/internal/logger"
	"github.com/ekisa-team/sttd/internal/model"
	grpcserver "github.com/ekisa-team/sttd/internal/server/grpc"
	httpserver "github.com/ekisa-team/sttd/internal/server/http"
	"github.com/ekisa-team/sttd/internal/service"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("sttd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	var (
		flagHTTPPort   = flag.Int("http-port", 0, "HTTP port to listen on (overrides config)")
		flagGRPCPort   = flag.Int("grpc-port", 0, "gRPC health port to listen on (overrides config)")
		flagConfigPath = flag.String("config", defaultConfigPath(), "Path to config file")
		flagSchemaPath = flag.String("schema", "", "Path to schema file (defaults to the built-in schema)")
	)
	flag.Parse()

	level := new(slog.LevelVar)

	fileCfg, watcher, err := loadConfig(*flagConfigPath, *flagSchemaPath, newReloader(level))
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	cfg := withPortOverrides(fileCfg, *flagHTTPPort, *flagGRPCPort)

	level.Set(logger.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(
		logger.New(env.FromEnv(),
			logger.WithLevel(level),
			logger.WithLogToFile(cfg.Logging.ToFile),
			logger.WithLogFile(cfg.Logging.File),
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := model.NewManager()
	if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to load models from config: %w", err)
	}

	servers := backend.NewServerManager()
	defer servers.StopAll()

	backends := backend.NewRegistry()
	defer func() {
		if err := backends.Close(); err != nil {
			slog.Error("Failed to close backends", "error", err)
		}
	}()

	health := grpcserver.NewHealthServer()

	var stt *service.STT

	wcfg := cfg.Backends.WhisperCPP
	if err := backends.Register(whisper.NewBackend(servers, whisper.Options{
		BinPath:      wcfg.BinPath,
		Port:         wcfg.Port,
		Threads:      wcfg.Threads,
		ReadyTimeout: wcfg.ReadyTimeout(),
		OnExit: func(err error) {
			stt.MarkFailed(err)
			health.Sync(stt)
		},
	})); err != nil {
		return err
	}

	stt = service.NewSTT(backends, manager.Registry(), cfg.Services.STT)
	if err := stt.Load(ctx); err != nil {
		return fmt.Errorf("failed to load stt model: %w", err)
	}

	health.Sync(stt)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr(), err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           httpserver.NewRouter(stt, version),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- health.Serve(grpcLis)
	}()

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "language", stt.Language(), "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err = <-errCh:
		slog.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	health.Shutdown(shutdownCtx)
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("HTTP server forced shutdown", "error", shutdownErr)
	}

	slog.Info("Server stopped")
	return err
}

// defaultConfigPath prefers STTD_CONFIG over the per-user config directory.
func defaultConfigPath() string {
	if p := os.Getenv(envvar.SttdConfigPath); p != "" {
		return p
	}

	return config.DefaultConfigFile()
}

// withPortOverrides returns a copy of cfg with the non-zero ports applied.
func withPortOverrides(cfg *config.Config, httpPort, grpcPort int) *config.Config {
	out := *cfg
	if httpPort != 0 {
		out.Server.HTTPPort = httpPort
	}
	if grpcPort != 0 {
		out.Server.GRPCPort = grpcPort
	}

	return &out
}

// reloader applies reloaded config files. Only the log level takes effect live.
type reloader struct {
	level    *slog.LevelVar
	baseline atomic.Pointer[config.Config]
}

func newReloader(level *slog.LevelVar) *reloader {
	return &reloader{level: level}
}

// pending lists the sections of cfg that differ from the file the process started with.
func (r *reloader) pending(cfg *config.Config) []string {
	base := r.baseline.Load()
	if base == nil {
		return nil
	}

	return config.RestartRequired(base, cfg)
}

func (r *reloader) onReload(cfg *config.Config, err error) {
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	r.level.Set(logger.ParseLevel(cfg.Logging.Level))

	if sections := r.pending(cfg); len(sections) > 0 {
		slog.Warn("Config changes take effect after restart", "sections", sections)
	}
}

// loadConfig loads and watches path. A missing file at the default location
// falls back to the built-in configuration without a watcher.
func loadConfig(path, schemaPath string, r *reloader) (*config.Config, *config.Watcher, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath() {
		slog.Info("No config file found, using built-in defaults", "path", path)
		return config.Default(), nil, nil
	}

	watcher, err := config.NewWatcher(path, schemaPath, r.onReload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	initial := watcher.Snapshot()
	r.baseline.Store(initial)
	slog.Info("Config loaded successfully", "config", path)

	return initial, watcher, nil
}
