package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
)

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxClientsReached    = errors.New("maximum clients reached")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrUnknownMethod        = errors.New("unknown method")
	ErrResultNotFound       = errors.New("query result not found")
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classify maps an error to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, eqserr.ErrConfiguration), errors.Is(err, ErrInvalidMessage):
		return http.StatusBadRequest, "configuration"
	case errors.Is(err, eqserr.ErrSceneNotFound):
		return http.StatusNotFound, "scene_not_found"
	case errors.Is(err, ErrResultNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrUnknownMethod):
		return http.StatusNotFound, "unknown_method"
	case errors.Is(err, eqserr.ErrEnvironmentNotInitialized):
		return http.StatusConflict, "environment_not_initialized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func bodyFor(err error) errorBody {
	_, kind := classify(err)
	return errorBody{Error: err.Error(), Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, _ := classify(err)
	writeJSON(w, status, bodyFor(err))
}
