package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sagarc03/stowfs"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// errorMapping pairs a sentinel with its response. The first match wins.
var errorMapping = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Missing or invalid token"},
	{ErrNotConfigured, http.StatusNotFound, "not_configured", "No object store configured"},
	{stowfs.ErrNotFound, http.StatusNotFound, "not_found", "Entry not found"},
	{stowfs.ErrInvalidPath, http.StatusBadRequest, "invalid_path", "Invalid path"},
	{stowfs.ErrNotDirectory, http.StatusBadRequest, "not_directory", "Not a directory"},
	{stowfs.ErrExists, http.StatusConflict, "conflict", ""},
	{stowfs.ErrConfiguration, http.StatusBadRequest, "invalid_config", ""},
	{stowfs.ErrUnavailable, http.StatusServiceUnavailable, "unavailable", "Backend unavailable"},
}

// HandleError writes appropriate error response based on error type.
// Conflicts and configuration errors carry the error text, since it names
// the store involved.
func HandleError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		slog.Debug("request error", "error", err, "status", m.status)
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		WriteError(w, m.status, m.code, msg)
		return
	}

	slog.Error("request error", "error", err)
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
