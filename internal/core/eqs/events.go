package eqs

import (
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/observability/log"
)

// Bus event types published by the Service.
const (
	// EventEnvironmentInitialized carries an EnvironmentSummary. Cache hits publish too.
	EventEnvironmentInitialized = "environment.initialized"
	// EventEnvironmentReset carries a ResetEvent.
	EventEnvironmentReset = "environment.reset"
	// EventQueryCompleted carries the *coordinator.QueryResult with the full
	// ranked list. Subscribers must treat it as read-only.
	EventQueryCompleted = "query.completed"
)

// EventSource is the Source() of every event published here.
const EventSource = "eqs"

// ResetEvent explains why the environment was discarded.
type ResetEvent struct {
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type event struct {
	typ  string
	data any
	meta map[string]any
}

// publish runs after the service lock is released so subscribers may call back in.
func (s *Service) publish(ev event) {
	if s.bus == nil || ev.typ == "" {
		return
	}
	if err := s.bus.Publish(bus.NewEvent(ev.typ, EventSource, ev.data, ev.meta)); err != nil {
		s.log.Warn("event subscriber failed", log.String("event", ev.typ), log.Error(err))
	}
}
