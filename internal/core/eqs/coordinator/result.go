package coordinator

import (
	"slices"
	"time"

	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// Stage is the last state a query reached. A failed query keeps the stage it
// failed in.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageFiltering Stage = "filtering"
	StageScoring   Stage = "scoring"
	StageSorting   Stage = "sorting"
	StageDone      Stage = "done"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// LocationCandidate is one scored cell.
type LocationCandidate struct {
	Position            spatial.Vec3       `json:"worldPosition"`
	Indices             spatial.IVec3      `json:"cellIndices"`
	Score               float64            `json:"score"`
	Breakdown           map[string]float64 `json:"breakdownScores"`
	AssociatedObjectIDs []string           `json:"associatedObjectIds"`
}

// Stats describes the work done by one query.
type Stats struct {
	CellsEvaluated int `json:"cellsEvaluated"`
	Candidates     int `json:"candidates"`
	OracleErrors   int `json:"oracleErrors"`
}

// QueryResult is the outcome of one query. Results is the top-K prefix of
// Ranked; both views share candidates.
type QueryResult struct {
	QueryID         string              `json:"queryId"`
	Status          Status              `json:"status"`
	Results         []LocationCandidate `json:"results"`
	Ranked          []LocationCandidate `json:"-"`
	ErrorMessage    string              `json:"errorMessage,omitempty"`
	ExecutionTime   time.Duration       `json:"-"`
	ExecutionTimeMS float64             `json:"executionTimeMs"`
	Stage           Stage               `json:"stage"`
	Stats           Stats               `json:"stats"`
	CompletedAt     time.Time           `json:"completedAt"`

	err error
}

// Err is the failure cause, or nil on success.
func (r *QueryResult) Err() error { return r.err }

// Succeeded reports a success status.
func (r *QueryResult) Succeeded() bool { return r.Status == StatusSuccess }

// Top returns at most n leading results.
func (r *QueryResult) Top(n int) []LocationCandidate {
	if n < 0 || n > len(r.Results) {
		n = len(r.Results)
	}
	return r.Results[:n]
}

// advance records the stage the query has reached.
func (r *QueryResult) advance(stage Stage, logger log.Log) {
	r.Stage = stage
	logger.Debug("query stage", log.String("stage", string(stage)))
}

func (r *QueryResult) finish(start time.Time) *QueryResult {
	r.CompletedAt = time.Now()
	r.ExecutionTime = r.CompletedAt.Sub(start)
	r.ExecutionTimeMS = float64(r.ExecutionTime.Microseconds()) / 1000
	if r.Results == nil {
		r.Results = []LocationCandidate{}
	}
	return r
}

func (r *QueryResult) fail(err error) *QueryResult {
	r.Status = StatusFailure
	r.ErrorMessage = err.Error()
	r.err = err
	return r
}

// Clone deep-copies the result so callers can hand it across goroutines.
func (r *QueryResult) Clone() *QueryResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Ranked = make([]LocationCandidate, len(r.Ranked))
	for i, c := range r.Ranked {
		c.Breakdown = cloneMap(c.Breakdown)
		c.AssociatedObjectIDs = slices.Clone(c.AssociatedObjectIDs)
		out.Ranked[i] = c
	}
	out.Results = out.Ranked[:len(r.Results)]
	return &out
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
