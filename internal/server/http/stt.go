package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/sttd/internal/backend"
)

// Transcriber runs a transcription for an audio reference.
type Transcriber interface {
	Transcribe(ctx context.Context, audio string) (*backend.Response, error)
}

type (
	TranscribeInput struct {
		Audio string `query:"audio" required:"true" minLength:"1" doc:"Path of the audio file to transcribe"`
	}

	TranscribeOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
)

// STTHandler handles HTTP requests for STT.
type STTHandler struct {
	service Transcriber
}

// NewSTTHandler creates a new STTHandler instance and registers its operation.
func NewSTTHandler(api huma.API, service Transcriber) *STTHandler {
	h := &STTHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID:   "transcribe",
		Method:        http.MethodPost,
		Path:          "/transcribe",
		Summary:       "Transcribe an audio file with timestamps",
		Tags:          []string{"stt"},
		DefaultStatus: http.StatusOK,
	}, h.handleTranscribe)

	return h
}

// handleTranscribe handles the transcribe operation. The model output is
// written as the response body without modification.
func (h *STTHandler) handleTranscribe(ctx context.Context, input *TranscribeInput) (*TranscribeOutput, error) {
	log := slog.With("audio", input.Audio, "request_id", RequestIDFromContext(ctx))

	resp, err := h.service.Transcribe(ctx, input.Audio)
	if err != nil {
		log.ErrorContext(ctx, "Transcription failed", "error", err)
		return nil, huma.Error500InternalServerError("failed to transcribe")
	}

	body, err := io.ReadAll(resp.Output)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read model output", "error", err)
		return nil, huma.Error500InternalServerError("failed to read model output")
	}

	if md := resp.Metadata; md != nil {
		log.InfoContext(ctx, "Transcription completed",
			"model", md.Model,
			"inference_seconds", md.DurationSeconds,
			"output_bytes", md.OutputSizeBytes,
		)
	}

	return &TranscribeOutput{
		ContentType: "application/json",
		Body:        body,
	}, nil
}
