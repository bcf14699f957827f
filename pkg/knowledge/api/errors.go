package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Existing string `json:"existing,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP. Every validation failure,
// an oversized body included, is a 400; the code field tells them apart.
func statusFor(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var validation *knowledge.ValidationError
	var conflict *knowledge.ConflictError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		resp.Code = string(knowledge.ReasonTooLarge)
		resp.Field = "file"
		return http.StatusBadRequest, resp
	case errors.As(err, &validation):
		resp.Error = validation.Error()
		resp.Code = string(validation.Reason)
		resp.Field = validation.Field
		return http.StatusBadRequest, resp
	case errors.As(err, &conflict):
		resp.Error = conflict.Error()
		resp.Code = "conflict"
		resp.Field = conflict.Field
		resp.Existing = conflict.Existing
		return http.StatusConflict, resp
	case errors.Is(err, knowledge.ErrNotFound):
		resp.Code = "not_found"
		return http.StatusNotFound, resp
	case errors.Is(err, knowledge.ErrInvalidTransition):
		resp.Code = "invalid_transition"
		return http.StatusConflict, resp
	case errors.Is(err, knowledge.ErrStorageFailure):
		resp.Error = "storage unavailable"
		resp.Code = "storage_failure"
		return http.StatusServiceUnavailable, resp
	}
	resp.Error = "internal server error"
	resp.Code = "internal_error"
	return http.StatusInternalServerError, resp
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
