package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/capitalize-ai/shopping-assistant/internal/speech"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// SpeechHandler proxies speech synthesis and recognition.
type SpeechHandler struct {
	service *speech.Service
	logger  *logger.Logger
}

// NewSpeechHandler creates a new speech handler.
func NewSpeechHandler(svc *speech.Service, log *logger.Logger) *SpeechHandler {
	return &SpeechHandler{
		service: svc,
		logger:  log,
	}
}

type synthesizeResponse struct {
	AudioContent string `json:"audio_content"`
	ContentType  string `json:"content_type"`
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

// Synthesize handles POST /api/v1/speech/synthesize
func (h *SpeechHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req speech.SynthesizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	audio, err := h.service.Synthesize(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, synthesizeResponse{
		AudioContent: base64.StdEncoding.EncodeToString(audio.Content),
		ContentType:  audio.ContentType,
	})
}

// Transcribe handles POST /api/v1/speech/transcribe
func (h *SpeechHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio must be base64 encoded")
		return
	}

	transcript, err := h.service.Transcribe(r.Context(), speech.TranscribeRequest{
		Audio:    audio,
		Format:   req.Format,
		Language: req.Language,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}
