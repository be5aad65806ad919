package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/storyforge/internal/logger"
	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/dice"
	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/state"
	"github.com/jwebster45206/storyforge/pkg/storage"
)

// maxBodyBytes bounds request bodies; snapshots are the largest payload.
const maxBodyBytes = 8 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err, "status", status)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, logger *slog.Logger, allowed ...string) {
	logger.Warn("Method not allowed",
		"method", r.Method,
		"path", r.URL.Path)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, logger, http.StatusMethodNotAllowed,
		fmt.Sprintf("Method not allowed. Supported methods: %s", strings.Join(allowed, ", ")))
}

// writeFailure maps a session or state error to its HTTP status.
func writeFailure(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusFor(err)
	errLog := logger.WithError(log, err)
	if status >= http.StatusInternalServerError {
		errLog.Error("Request failed")
	} else {
		errLog.Debug("Request rejected", "status", status)
	}
	writeError(w, log, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyAction),
		errors.Is(err, dice.ErrInvalidFormula),
		errors.Is(err, card.ErrBlankTitle),
		errors.Is(err, state.ErrInvalidInit),
		errors.Is(err, state.ErrInvalidName),
		errors.Is(err, state.ErrInvalidPath),
		errors.Is(err, state.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNotFound),
		errors.Is(err, card.ErrNotFound),
		errors.Is(err, storage.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoCard),
		errors.Is(err, state.ErrNameTaken),
		errors.Is(err, state.ErrNotObject):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoClient),
		errors.Is(err, session.ErrNoSlots),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err, "path", r.URL.Path)
		writeError(w, logger, http.StatusBadRequest, "Invalid request body. Expected JSON.")
		return false
	}
	return true
}

// subPath returns the part of the request path after prefix, without
// surrounding slashes.
func subPath(r *http.Request, prefix string) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
