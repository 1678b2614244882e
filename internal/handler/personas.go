package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

const (
	defaultPersonaLimit = 50
	maxPersonaLimit     = 100
)

// PersonaHandler handles persona endpoints.
type PersonaHandler struct {
	service *service.PersonaService
	logger  *logger.Logger
}

// NewPersonaHandler creates a new persona handler.
func NewPersonaHandler(svc *service.PersonaService, log *logger.Logger) *PersonaHandler {
	return &PersonaHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/personas?type=&name=&limit=
func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := middleware.ParseLimit(q.Get("limit"), defaultPersonaLimit, maxPersonaLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.List(r.Context(), middleware.GetUserID(r.Context()), persona.ListFilter{
		Type:  q.Get("type"),
		Name:  q.Get("name"),
		Limit: limit,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/personas
func (h *PersonaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePersonaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	p, err := h.service.Create(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/personas/{id}
func (h *PersonaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidatePersonaID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update handles PATCH /api/v1/personas/{id}
func (h *PersonaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidatePersonaID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch model.PersonaPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	p, err := h.service.Update(r.Context(), middleware.GetUserID(r.Context()), id, patch)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/personas/{id}
func (h *PersonaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidatePersonaID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recognize handles GET /api/v1/personas/recognize?type=&name=
func (h *PersonaHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.Recognize(r.Context(), middleware.GetUserID(r.Context()), q.Get("type"), q.Get("name"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
