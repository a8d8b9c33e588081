package http

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP handler serving the transcription operation.
func NewRouter(stt Transcriber, version string) http.Handler {
	r := chi.NewMux()

	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)

	api := humachi.New(r, NewAPIConfig(version))
	NewSTTHandler(api, stt)

	return r
}

// NewAPIConfig returns the huma config used by the service: no OpenAPI,
// docs or schema routes, and no $schema links injected into bodies.
func NewAPIConfig(version string) huma.Config {
	cfg := huma.DefaultConfig("sttd", version)
	cfg.OpenAPIPath = ""
	cfg.DocsPath = ""
	cfg.SchemasPath = ""
	cfg.CreateHooks = nil

	return cfg
}
