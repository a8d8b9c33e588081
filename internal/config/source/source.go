package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ekisa-team/sttd/internal/config"
)

// ErrUnsupportedSource is returned for source types without a downloader.
var ErrUnsupportedSource = errors.New("unsupported model source")

// Downloader fetches a model into a local directory.
// It returns the directory holding the model files and whether it was already up to date.
type Downloader interface {
	Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(huggingFaceCLI), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType)
	}
}

// EnsureModelsDirectory creates the models directory if it does not exist.
func EnsureModelsDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return err
	}

	return os.MkdirAll(path, 0o755)
}
