package handler

import (
	"net/http"
	"strconv"

	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// ConversationHandler replays logged conversation turns.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversation?session_id=&after_sequence=&limit=
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sessionID := q.Get("session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterSequence uint64
	if seqStr := q.Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	limit, err := middleware.ParseLimit(q.Get("limit"), 50, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()), sessionID, afterSequence, limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
