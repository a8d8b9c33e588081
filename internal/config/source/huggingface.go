package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/sttd/internal/config"
	"github.com/ekisa-team/sttd/internal/xexec"
)

const (
	huggingFaceCLI    = "hf"
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".sttd-downloaded"
)

// HuggingFaceDownloader downloads a model from Hugging Face with the hf CLI.
type HuggingFaceDownloader struct {
	executor   *xexec.Executor
	binary     string
	retryDelay time.Duration
	maxRetries int
}

// NewHuggingFaceDownloader creates a downloader that shells out to the given hf binary.
// The binary is looked up on the first download that is not already cached.
func NewHuggingFaceDownloader(binary string) *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		binary:     binary,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
}

// NewHuggingFaceDownloaderWithExecutor creates a downloader around an existing executor.
func NewHuggingFaceDownloaderWithExecutor(executor *xexec.Executor, retryDelay time.Duration) *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		executor:   executor,
		retryDelay: retryDelay,
		maxRetries: defaultMaxRetries,
	}
}

// Download downloads a Hugging Face model to the local cache.
func (d *HuggingFaceDownloader) Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	source, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	hfSource, ok := source.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", source)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return "", false, fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	fullPath := filepath.Join(targetDir, repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(hfSource)

	if !hfSource.ForceDownload && !d.shouldRedownload(markerPath, markerContent) {
		slog.Info("Model already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", fullPath)
		return fullPath, true, nil
	}

	executor, err := d.resolveExecutor()
	if err != nil {
		return "", false, err
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(repo, fullPath, hfSource)

	var lastErr error
	for attempt := range d.maxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading model", "repo", repo, "path", fullPath)
		}

		stdout, stderr, err := executor.Execute(ctx, args, nil)
		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}

			slog.Info("Model downloaded successfully", "repo", repo, "path", fullPath, "attempt", attempt+1)
			return fullPath, false, nil
		}

		lastErr = fmt.Errorf("hf download: %w: %s", err, strings.TrimSpace(string(stderr)))
		slog.Error("Failed to download model", "repo", repo, "attempt", attempt+1, "error", err, "output", string(stdout))

		if errors.Is(ctx.Err(), context.Canceled) {
			return "", false, fmt.Errorf("download canceled: %w", lastErr)
		}
	}

	return "", false, lastErr
}

func (d *HuggingFaceDownloader) resolveExecutor() (*xexec.Executor, error) {
	if d.executor != nil {
		return d.executor, nil
	}

	executor, err := xexec.NewExecutor(d.binary, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("hugging face cli unavailable: %w", err)
	}
	d.executor = executor

	return executor, nil
}

// buildArgs builds hf CLI arguments.
func (d *HuggingFaceDownloader) buildArgs(repo, dir string, src config.HuggingFaceSource) []string {
	args := []string{"download", repo, "--local-dir", dir}

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", src.MaxWorkers))
	}

	return args
}

// markerContent identifies what was downloaded, so a config change triggers a new download.
func (d *HuggingFaceDownloader) markerContent(src config.HuggingFaceSource) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\ninclude: %s\nexclude: %s\n",
		strings.TrimSpace(src.Repo), src.Revision,
		strings.Join(src.Include, ","), strings.Join(src.Exclude, ","))
}

// shouldRedownload checks if the model should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model config changed (marker mismatch), will redownload", "marker_path", markerPath)
		return true
	}

	return false
}
