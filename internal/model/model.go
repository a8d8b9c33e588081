package model

import (
	"sync"
	"time"

	"github.com/ekisa-team/sttd/internal/config"
)

// ModelStatus is the current loading status of a model.
type ModelStatus string

const (
	// ModelStatusUnloaded indicates that the model is on disk but not loaded.
	ModelStatusUnloaded ModelStatus = "unloaded"

	// ModelStatusLoading indicates that the model is being loaded.
	ModelStatusLoading ModelStatus = "loading"

	// ModelStatusLoaded indicates that the model is loaded.
	ModelStatusLoaded ModelStatus = "loaded"

	// ModelStatusFailed indicates that the model failed to load.
	ModelStatusFailed ModelStatus = "failed"
)

// ModelInstance represents a model profile and its load state.
type ModelInstance struct {
	Config   *config.ModelConfig `json:"config"`
	LoadedAt *time.Time          `json:"loaded_at,omitempty"`
	ID       string              `json:"id"`
	Path     string              `json:"-"`
	Status   ModelStatus         `json:"status"`
	Error    string              `json:"error,omitempty"`
	mu       sync.RWMutex
}

// NewModelInstance creates a new model instance.
func NewModelInstance(cfg *config.ModelConfig, id, path string) *ModelInstance {
	return &ModelInstance{
		ID:     id,
		Path:   path,
		Config: cfg,
		Status: ModelStatusUnloaded,
	}
}

// SetStatus sets the status of the model instance.
func (mi *ModelInstance) SetStatus(status ModelStatus) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.Status = status
	if status == ModelStatusLoaded {
		now := time.Now()
		mi.LoadedAt = &now
	}
}

// GetStatus returns the current status.
func (mi *ModelInstance) GetStatus() ModelStatus {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	return mi.Status
}

// SetError marks the instance failed with err.
func (mi *ModelInstance) SetError(err error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.Status = ModelStatusFailed
	mi.Error = err.Error()
}
