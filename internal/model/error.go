package model

import "errors"

// Error definitions for the model package.
var (
	ErrModelNotFound      = errors.New("model not found in registry")
	ErrModelsAlreadyReady = errors.New("models are already loaded for this process")
)
