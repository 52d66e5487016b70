package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/registry"
)

// ErrorBody is the JSON error envelope: {"error": {"code": ..., "message": ...}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errBadRequest marks malformed path, query or body input.
var errBadRequest = errors.New("bad request")

func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// StatusFor maps domain errors to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	var setupErr *appErrors.SetupError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, appErrors.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case appErrors.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, appErrors.ErrCampaignNotRunning):
		return http.StatusConflict, "NOT_RUNNING"
	case errors.Is(err, appErrors.ErrAlreadyRunning):
		return http.StatusConflict, "ALREADY_RUNNING"
	case appErrors.IsGatewayUnavailable(err):
		return http.StatusBadGateway, "GATEWAY_UNAVAILABLE"
	case errors.As(err, &setupErr):
		return http.StatusBadGateway, "SETUP_FAILED"
	case errors.Is(err, registry.ErrShutdown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope. Internal errors are logged and their detail hidden.
func WriteError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err,
		})
		msg = "internal server error"
	}
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

// PathID parses a positive integer URL parameter.
func PathID(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, BadRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// QueryInt returns the integer query parameter, or 0 when absent or malformed.
func QueryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
