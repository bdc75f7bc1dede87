// Package eqserr holds the error taxonomy shared by the query engine.
package eqserr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers malformed requests: bad JSON, missing fields, bad shapes.
	ErrConfiguration = errors.New("configuration error")
	// ErrEnvironmentNotInitialized is reported as a failed query, never raised to the host.
	ErrEnvironmentNotInitialized = errors.New("environment not initialized")
	// ErrNoCandidates is reported as a failed query when filtering leaves nothing.
	ErrNoCandidates = errors.New("no candidates found")
	// ErrOracleUnavailable marks a physics oracle call that failed, as opposed to a miss.
	ErrOracleUnavailable = errors.New("spatial oracle unavailable")
	// ErrSceneNotFound is returned by scene sources for unknown scene ids.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrObjectNotFound is returned when an object reference cannot be resolved.
	ErrObjectNotFound = errors.New("object not found")
)

// Configf wraps ErrConfiguration with context.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Field annotates a configuration error with the offending field path.
func Field(field string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConfiguration) {
		return fmt.Errorf("%s: %w", field, err)
	}
	return fmt.Errorf("%s: %w: %v", field, ErrConfiguration, err)
}

// IsConfiguration reports whether err belongs to the configuration class.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
