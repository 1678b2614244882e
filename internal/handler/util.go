// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: string(apperr.CodeValidation)})
}

// writeAppError maps err onto its status and code. Server-side failures are
// logged; the cause is never exposed to the client.
func writeAppError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := apperr.StatusOf(err)
	resp := errorResponse{Code: string(apperr.CodeOf(err))}

	var e *apperr.Error
	if errors.As(err, &e) {
		resp.Error = e.Message
		resp.Details = e.Details
	} else {
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		log.WithContext(middleware.GetCorrelationID(r.Context()), middleware.GetUserID(r.Context())).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", resp.Code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.NewValidation("invalid request body")
	}
	return nil
}
