package handler

import (
	"errors"
	"net/http"

	"github.com/capitalize-ai/shopping-assistant/internal/flow"
	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

const maxSessionsLimit = 50

// FlowHandler handles the guided flow endpoints.
type FlowHandler struct {
	service *service.AssistantService
	logger  *logger.Logger
}

// NewFlowHandler creates a new flow handler.
func NewFlowHandler(svc *service.AssistantService, log *logger.Logger) *FlowHandler {
	return &FlowHandler{
		service: svc,
		logger:  log,
	}
}

// Current handles GET /api/v1/flow
func (h *FlowHandler) Current(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Current(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Advance handles POST /api/v1/flow/advance
func (h *FlowHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var in flow.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if err := validateInput(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.Advance(r.Context(), middleware.GetUserID(r.Context()), in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Abandon handles POST /api/v1/flow/abandon
func (h *FlowHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Abandon(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Restart handles POST /api/v1/flow/restart
func (h *FlowHandler) Restart(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Restart(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Options handles GET /api/v1/flow/options?step=&parent=
func (h *FlowHandler) Options(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	step := model.Step(q.Get("step"))
	if step == "" {
		writeError(w, http.StatusBadRequest, "step is required")
		return
	}

	opts, err := h.service.Options(step, q.Get("parent"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"step":    step,
		"options": opts,
	})
}

// Sessions handles GET /api/v1/flow/sessions?limit=
func (h *FlowHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	limit, err := middleware.ParseLimit(r.URL.Query().Get("limit"), 0, maxSessionsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Sessions(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func validateInput(in flow.Input) error {
	if in.Option == "" && in.Text == "" && len(in.Values) == 0 {
		return errors.New("option, text or values is required")
	}
	if err := middleware.ValidateToken(in.Option); err != nil {
		return err
	}
	if err := middleware.ValidateFreeText(in.Text); err != nil {
		return err
	}
	for _, v := range in.Values {
		if err := middleware.ValidateFreeText(v); err != nil {
			return err
		}
	}
	return nil
}
