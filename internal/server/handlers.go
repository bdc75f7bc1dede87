package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/query"
)

// Engine is the subset of eqs.Service the transport layer calls.
type Engine interface {
	InitializeEnvironment(ctx context.Context, req eqs.InitRequest) (eqs.EnvironmentSummary, error)
	PerformQuery(ctx context.Context, req query.Request) (*coordinator.QueryResult, error)
	Environment() (eqs.EnvironmentSummary, bool)
	CachedResult(id string) (*coordinator.QueryResult, bool)
	Reset()
}

// QueryResponse is the host-facing result summary. The full ranked set goes to
// visualization subscribers instead.
type QueryResponse struct {
	QueryID         string                          `json:"queryId"`
	Status          coordinator.Status              `json:"status"`
	ErrorMessage    string                          `json:"errorMessage,omitempty"`
	ResultCount     int                             `json:"resultCount"`
	ExecutionTimeMS float64                         `json:"executionTimeMs"`
	Stage           coordinator.Stage               `json:"stage"`
	Stats           coordinator.Stats               `json:"stats"`
	Results         []coordinator.LocationCandidate `json:"results"`
}

func newQueryResponse(res *coordinator.QueryResult) QueryResponse {
	return QueryResponse{
		QueryID:         res.QueryID,
		Status:          res.Status,
		ErrorMessage:    res.ErrorMessage,
		ResultCount:     len(res.Results),
		ExecutionTimeMS: res.ExecutionTimeMS,
		Stage:           res.Stage,
		Stats:           res.Stats,
		Results:         res.Results,
	}
}

// decodeInit starts from DefaultInitRequest so absent flags keep their defaults.
func decodeInit(r io.Reader) (eqs.InitRequest, error) {
	req := eqs.DefaultInitRequest()
	if err := decodeBody(r, &req); err != nil {
		return req, err
	}
	return req, nil
}

func decodeBody(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return eqserr.Field("body", err)
	}
	if dec.More() {
		return eqserr.Field("body", fmt.Errorf("%w: trailing data", ErrInvalidMessage))
	}
	return nil
}

type handlers struct {
	engine  Engine
	maxBody int64
}

func (h *handlers) body(w http.ResponseWriter, r *http.Request) io.Reader {
	if h.maxBody > 0 {
		return http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	return r.Body
}

func (h *handlers) initEnvironment(w http.ResponseWriter, r *http.Request) {
	req, err := decodeInit(h.body(w, r))
	if err != nil {
		writeError(w, err)
		return
	}
	sum, err := h.engine.InitializeEnvironment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) getEnvironment(w http.ResponseWriter, _ *http.Request) {
	sum, ok := h.engine.Environment()
	if !ok {
		writeError(w, eqserr.ErrEnvironmentNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) resetEnvironment(w http.ResponseWriter, _ *http.Request) {
	h.engine.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) performQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decodeBody(h.body(w, r), &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.engine.PerformQuery(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if errors.Is(res.Err(), eqserr.ErrEnvironmentNotInitialized) {
		status = http.StatusConflict
	}
	writeJSON(w, status, newQueryResponse(res))
}

func (h *handlers) getResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "queryID")
	res, ok := h.engine.CachedResult(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q", ErrResultNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(res))
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	_, ready := h.engine.Environment()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "environmentReady": ready})
}
