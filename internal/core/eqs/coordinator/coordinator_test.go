package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/scoring"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

func flatEnv(t *testing.T) *world.Environment {
	t.Helper()
	g, err := grid.New(spatial.Zero, spatial.I(10, 1, 10), 1, grid.Options{})
	require.NoError(t, err)
	return &world.Environment{Grid: g, Oracle: oracle.None{}}
}

func TestEndToEndScenario(t *testing.T) {
	q, err := query.Request{
		QueryID:             "e2e",
		ConditionsJSON:      `[{"type":"DistanceTo","parameters":{"targetPoint":[5,0,5],"maxDistance":3}}]`,
		ScoringCriteriaJSON: `[{"type":"ProximityTo","parameters":{"targetPoint":[5,0,5],"maxDistance":10,"scoringCurve":"linear"}}]`,
		DesiredResultCount:  5,
	}.Decode()
	require.NoError(t, err)

	res, err := New(Options{}, nil).Run(q, flatEnv(t))
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.ErrorMessage)
	assert.Equal(t, StageDone, res.Stage)
	require.Len(t, res.Results, 5)

	target := spatial.V(5, 0, 5)
	for i, c := range res.Results {
		assert.LessOrEqual(t, spatial.Dist(target, c.Position), 3.0)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Results[i-1].Score, c.Score)
		}
	}
	first := res.Results[0]
	assert.Equal(t, spatial.V(4.5, 0.5, 4.5), first.Position, "ties keep grid order")
	assert.InDelta(t, 1-spatial.Dist(target, first.Position)/10, first.Score, 1e-9)
	assert.Contains(t, first.Breakdown, "ProximityTo")
	assert.Equal(t, 100, res.Stats.CellsEvaluated)
	assert.Equal(t, len(res.Ranked), res.Stats.Candidates)
}

func rowQuery(id string, count int) *query.Query {
	return &query.Query{
		ID:                 id,
		DesiredResultCount: count,
		AreaOfInterest:     &query.AreaOfInterest{Type: query.AreaBox, Center: spatial.V(5, 0.5, 0.5), Size: spatial.V(10, 1, 1)},
		Criteria: []query.Criterion{{
			Type:   "ProximityTo",
			Weight: 1,
			Parameters: params.Params{
				"targetPoint": params.Floats(0, 0.5, 0.5),
				"maxDistance": params.Number(10),
			},
		}},
	}
}

func TestTruncationKeepsHighestScores(t *testing.T) {
	res, err := New(Options{}, nil).Run(rowQuery("row", 3), flatEnv(t))
	require.NoError(t, err)
	require.Len(t, res.Ranked, 10)
	require.Len(t, res.Results, 3)
	for i, want := range []float64{0.95, 0.85, 0.75} {
		assert.InDelta(t, want, res.Results[i].Score, 1e-9)
		assert.Equal(t, spatial.I(i, 0, 0), res.Results[i].Indices)
	}
	assert.Len(t, res.Top(10), 3)
	assert.Len(t, res.Top(1), 1)
}

func TestDeterministicAcrossRunsAndWorkers(t *testing.T) {
	env := flatEnv(t)
	q := rowQuery("det", 10)
	q.AreaOfInterest = nil

	a, err := New(Options{}, nil).Run(q, env)
	require.NoError(t, err)
	b, err := New(Options{}, nil).Run(q, env)
	require.NoError(t, err)
	c, err := New(Options{Workers: 4}, nil).Run(q, env)
	require.NoError(t, err)

	if diff := cmp.Diff(a.Ranked, b.Ranked); diff != "" {
		t.Fatalf("repeat run differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a.Ranked, c.Ranked); diff != "" {
		t.Fatalf("parallel run differs (-sequential +parallel):\n%s", diff)
	}
}

func TestWeightedMean(t *testing.T) {
	reg := scoring.NewRegistry()
	constant := func(v float64) scoring.Factory {
		return func(*eval.Scope, params.Params) (scoring.Criterion, error) {
			return scoring.ScoreFunc(func(*grid.Cell) (float64, error) { return v, nil }), nil
		}
	}
	reg.Register("One", constant(1))
	reg.Register("Zero", constant(0))

	q := &query.Query{ID: "mean", DesiredResultCount: 1, Criteria: []query.Criterion{
		{Type: "One", Weight: 0.5},
		{Type: "Zero", Weight: 0.5},
	}}
	res, err := New(Options{Criteria: reg}, nil).Run(q, flatEnv(t))
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.InDelta(t, 0.5, res.Results[0].Score, 1e-12)
	assert.Equal(t, map[string]float64{"One": 1, "Zero": 0}, res.Results[0].Breakdown)
}

func TestFailuresAreResultsNotErrors(t *testing.T) {
	co := New(Options{}, nil)

	res, err := co.Run(rowQuery("no-env", 1), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err(), eqserr.ErrEnvironmentNotInitialized)
	assert.Equal(t, StageIdle, res.Stage)
	assert.NotNil(t, res.Results)

	q := &query.Query{ID: "empty", DesiredResultCount: 1, Conditions: []query.Condition{{
		Type:       "DistanceTo",
		Weight:     1,
		Parameters: params.Params{"targetPoint": params.Floats(100, 0, 100), "maxDistance": params.Number(1)},
	}}}
	res, err = co.Run(q, flatEnv(t))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), eqserr.ErrNoCandidates)
	assert.Equal(t, StageFiltering, res.Stage)
	assert.Equal(t, 100, res.Stats.CellsEvaluated)

	cached, ok := co.Cached("empty")
	require.True(t, ok)
	assert.Same(t, res, cached)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `"failure"`, string(mustField(t, body, "status")))
	assert.JSONEq(t, `[]`, string(mustField(t, body, "results")))
}

func mustField(t *testing.T, body []byte, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	v, ok := m[key]
	require.True(t, ok, "missing %s in %s", key, body)
	return v
}

func TestConfigurationErrorsAreNotCached(t *testing.T) {
	co := New(Options{}, nil)
	q := &query.Query{ID: "bad", DesiredResultCount: 1, Conditions: []query.Condition{{
		Type:       "DistanceTo",
		Parameters: params.Params{"targetPoint": params.String("nobody")},
	}}}
	_, err := co.Run(q, flatEnv(t))
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
	assert.Equal(t, 0, co.CacheLen())

	_, err = co.Run(&query.Query{ID: "zero"}, flatEnv(t))
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
}

func TestConfigurationErrorsWinOverMissingEnvironment(t *testing.T) {
	co := New(Options{}, nil)
	for name, q := range map[string]*query.Query{
		"unknown-point": {ID: "ghost", DesiredResultCount: 1, Conditions: []query.Condition{{
			Type:       "DistanceTo",
			Parameters: params.Params{"targetPoint": params.String("ghost")},
		}}},
		"bad-shape": {ID: "far", DesiredResultCount: 1, Criteria: []query.Criterion{{
			Type:       "ProximityTo",
			Weight:     1,
			Parameters: params.Params{"targetPoint": params.Floats(1, 0, 1), "maxDistance": params.String("far")},
		}}},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := co.Run(q, nil)
			assert.ErrorIs(t, err, eqserr.ErrConfiguration)
			assert.Nil(t, res)
		})
	}
	assert.Equal(t, 0, co.CacheLen())

	res, err := co.Run(rowQuery("fine", 1), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), eqserr.ErrEnvironmentNotInitialized)
	assert.Equal(t, 1, co.CacheLen())
}

type stageRecorder struct {
	*log.Logger
	stages *[]Stage
}

func (r stageRecorder) With(...log.Field) log.Log { return r }

func (r stageRecorder) Debug(_ string, fields ...log.Field) {
	for _, f := range fields {
		if f.Key == "stage" {
			*r.stages = append(*r.stages, Stage(f.Value.(string)))
		}
	}
}

func TestStagesAdvanceAsQueryRuns(t *testing.T) {
	var stages []Stage
	co := New(Options{}, stageRecorder{Logger: log.NewNop(), stages: &stages})

	res, err := co.Run(rowQuery("staged", 2), flatEnv(t))
	require.NoError(t, err)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, []Stage{StageFiltering, StageScoring, StageSorting, StageDone}, stages)

	stages = nil
	q := &query.Query{ID: "nothing", DesiredResultCount: 1, Conditions: []query.Condition{{
		Type:       "DistanceTo",
		Parameters: params.Params{"targetPoint": params.Floats(100, 0, 100), "maxDistance": params.Number(1)},
	}}}
	res, err = co.Run(q, flatEnv(t))
	require.NoError(t, err)
	assert.Equal(t, StageFiltering, res.Stage)
	assert.Equal(t, []Stage{StageFiltering}, stages)

	stages = nil
	res, err = co.Run(rowQuery("idle", 1), nil)
	require.NoError(t, err)
	assert.Equal(t, StageIdle, res.Stage)
	assert.Empty(t, stages)
}

func TestCacheLastWriteWins(t *testing.T) {
	co := New(Options{}, nil)
	env := flatEnv(t)
	first, err := co.Run(rowQuery("same", 1), env)
	require.NoError(t, err)
	second, err := co.Run(rowQuery("same", 4), env)
	require.NoError(t, err)

	got, ok := co.Cached("same")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Len(t, got.Results, 4)
	assert.Equal(t, 1, co.CacheLen())

	co.ClearCache()
	_, ok = co.Cached("same")
	assert.False(t, ok)
}

func TestCandidatesCopyOccupants(t *testing.T) {
	env := flatEnv(t)
	cell, ok := env.Grid.At(spatial.I(0, 0, 0))
	require.True(t, ok)
	cell.DynamicOccupants = []string{"guard"}

	res, err := New(Options{}, nil).Run(rowQuery("occ", 1), env)
	require.NoError(t, err)
	require.Equal(t, []string{"guard"}, res.Results[0].AssociatedObjectIDs)

	cell.DynamicOccupants[0] = "changed"
	assert.Equal(t, "guard", res.Results[0].AssociatedObjectIDs[0])

	clone := res.Clone()
	clone.Results[0].AssociatedObjectIDs[0] = "mutated"
	assert.Equal(t, "guard", res.Results[0].AssociatedObjectIDs[0])
	assert.Len(t, clone.Results, 1)
}
