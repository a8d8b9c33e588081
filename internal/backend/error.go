package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrBackendNotFound          = errors.New("backend not found in registry")
	ErrBackendAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrNotLoaded                = errors.New("backend has no model loaded")
	ErrServerExited             = errors.New("server process exited")
	ErrServerNotFound           = errors.New("server not found")
)
