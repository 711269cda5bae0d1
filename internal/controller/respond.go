package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
)

type messageBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// WriteMessage writes a {message} body.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, messageBody{Message: msg})
}

// WriteError maps err onto an HTTP status. Unexpected errors are logged
// and reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *appErrors.ValidationError
		nerr *appErrors.NotFoundError
		cerr *appErrors.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, messageBody{Message: verr.Error(), Field: verr.Field})
	case errors.As(err, &nerr):
		WriteMessage(w, http.StatusNotFound, nerr.Error())
	case errors.As(err, &cerr):
		WriteMessage(w, http.StatusConflict, cerr.Error())
	case appErrors.IsTransport(err), appErrors.IsVendorRejected(err):
		WriteMessage(w, http.StatusBadGateway, "vendor unavailable")
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("", "invalid body: %v", err)
	}
	return nil
}
