package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/internal/state"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// EventsHandler streams state change notifications over SSE.
type EventsHandler struct {
	hub       *state.Hub
	service   *service.AssistantService
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewEventsHandler creates a new events handler. heartbeat <= 0 uses 30s.
func NewEventsHandler(hub *state.Hub, svc *service.AssistantService, heartbeat time.Duration, log *logger.Logger) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{
		hub:       hub,
		service:   svc,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// Stream handles GET /api/v1/flow/events
// The first event carries the current view; later events only say that the
// state changed, and the client re-reads GET /flow.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	view, err := h.service.Current(ctx, userID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	// Subscribe before writing anything so no change is missed after the
	// initial view.
	sub := h.hub.Subscribe(userID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithUser(userID, view.State.SessionID)
	if err := sendSSEEvent(w, flusher, "connected", view); err != nil {
		log.Warn("failed to send initial view", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case change, ok := <-sub.C:
			if !ok {
				_ = sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "STREAM_CLOSED",
					Message: "notification stream closed",
				})
				return
			}
			if err := sendSSEEvent(w, flusher, "state_changed", change); err != nil {
				log.Warn("failed to send state change", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
