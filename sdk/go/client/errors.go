package client

import (
	"context"
	"errors"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
)

// Client-specific errors
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrInvalidConfig   = errors.New("invalid client configuration")
	ErrRequestTimeout  = errors.New("request timeout")
	ErrResultNotFound  = errors.New("query result not found")
	ErrUnknownMethod   = errors.New("unknown method")
	ErrInvalidResponse = errors.New("invalid response")
)

// RemoteError is an error reported by the server. It matches the eqserr
// sentinels with errors.Is, so callers handle local and remote failures alike.
type RemoteError struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Is(target error) bool {
	switch e.Kind {
	case "configuration":
		return target == eqserr.ErrConfiguration
	case "scene_not_found":
		return target == eqserr.ErrSceneNotFound
	case "environment_not_initialized":
		return target == eqserr.ErrEnvironmentNotInitialized
	case "not_found":
		return target == ErrResultNotFound
	case "unknown_method":
		return target == ErrUnknownMethod
	case "cancelled":
		return target == context.Canceled
	}
	return false
}
