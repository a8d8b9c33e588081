package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ServerManager manages server processes.
type ServerManager struct {
	servers map[string]*ServerProcess
	client  *http.Client
	mu      sync.RWMutex
}

// ServerProcess represents a running server process.
type ServerProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
	err    error
}

// ServerConfig defines how to start and check a backend server.
type ServerConfig struct {
	Env          map[string]string
	Name         string
	BinPath      string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration

	// OnExit is called when the server exits without StopServer or StopAll.
	OnExit func(err error)
}

// NewServerManager initializes a ServerManager.
func NewServerManager() *ServerManager {
	return &ServerManager{
		servers: map[string]*ServerProcess{},
		client:  &http.Client{Timeout: 1 * time.Second},
	}
}

func serverKey(name string, port int) string {
	return fmt.Sprintf("%s-%d", name, port)
}

// StartServer starts a backend server and blocks until its health path answers 200.
// Starting a server that is already running is a no-op.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(cfg.Name, cfg.Port)
	if _, exists := sm.servers[key]; exists {
		return nil
	}

	binPath, err := exec.LookPath(cfg.BinPath)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binPath, cfg.Args...)

	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	logger := slog.With("server", cfg.Name, "port", cfg.Port)
	stdout, stderr := processLog(logger, slog.LevelDebug), processLog(logger, slog.LevelDebug)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	proc := &ServerProcess{
		cmd:    cmd,
		cancel: cancel,
		exited: make(chan struct{}),
	}

	go func() {
		proc.err = cmd.Wait()
		stdout.Close()
		stderr.Close()
		close(proc.exited)

		sm.mu.Lock()
		unexpected := sm.servers[key] == proc
		if unexpected {
			delete(sm.servers, key)
		}
		sm.mu.Unlock()

		if !unexpected {
			return
		}

		logger.Error("Server process exited", "error", proc.err)
		if cfg.OnExit != nil {
			cfg.OnExit(errors.Join(ErrServerExited, proc.err))
		}
	}()

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	url := fmt.Sprintf("http://localhost:%d%s", cfg.Port, healthPath)
	if err := sm.waitForServer(ctx, proc, url, timeout); err != nil {
		cancel()
		<-proc.exited
		return fmt.Errorf("%s server did not become ready: %w", cfg.Name, err)
	}

	sm.servers[key] = proc

	logger.Info("Server started", "pid", cmd.Process.Pid)
	return nil
}

// Running reports whether the named server is up.
func (sm *ServerManager) Running(name string, port int) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.servers[serverKey(name, port)]
	return ok
}

// StopServer terminates a backend server and waits for it to exit.
func (sm *ServerManager) StopServer(name string, port int) error {
	sm.mu.Lock()
	key := serverKey(name, port)
	srv, exists := sm.servers[key]
	if exists {
		delete(sm.servers, key)
	}
	sm.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrServerNotFound, key)
	}

	srv.cancel()
	<-srv.exited

	slog.Info("Server stopped", "name", name, "port", port)
	return nil
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	servers := sm.servers
	sm.servers = map[string]*ServerProcess{}
	sm.mu.Unlock()

	for _, srv := range servers {
		srv.cancel()
		<-srv.exited
	}

	slog.Info("All servers stopped")
}

// waitForServer polls url until it answers 200, the process exits, or timeout elapses.
func (sm *ServerManager) waitForServer(ctx context.Context, proc *ServerProcess, url string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := sm.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.exited:
			return errors.Join(ErrServerExited, proc.err)
		case <-deadline.C:
			return fmt.Errorf("server failed to respond at %s within %v", url, timeout)
		case <-ticker.C:
		}
	}
}

// processLog forwards each line a child process writes to the logger.
func processLog(logger *slog.Logger, level slog.Level) io.WriteCloser {
	r, w := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			logger.Log(context.Background(), level, scanner.Text())
		}
		_, _ = io.Copy(io.Discard, r)
	}()

	return w
}
