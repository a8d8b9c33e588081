package backend

// ModelLocator is an optional interface for backends that can locate
// the actual model file to load inside a downloaded directory.
type ModelLocator interface {
	// ResolveModelPath resolves the real model path inside the base downloaded directory.
	ResolveModelPath(basePath string) (string, error)
}
