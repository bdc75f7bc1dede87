package eqs

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/spatial"
)

const scenes = `
scenes:
  - id: arena
    objects:
      - id: floor
        bounds: {min: [0, -1, 0], max: [10, 0, 10]}
      - id: pillar
        bounds: {min: [4, 0, 4], max: [5, 2, 5]}
      - id: guard-1
        tag: enemy
        movable: true
        position: [2.5, 0.5, 2.5]
`

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(e bus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *recorder) last() bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	src, err := world.ParseSceneFile(strings.NewReader(scenes))
	require.NoError(t, err)
	b := bus.New()
	rec := &recorder{}
	for _, typ := range []string{EventEnvironmentInitialized, EventEnvironmentReset, EventQueryCompleted} {
		_, err = b.Subscribe(typ, rec.handle)
		require.NoError(t, err)
	}
	return NewService(src, nil, b, DefaultOptions(), nil), rec
}

func arenaRequest() InitRequest {
	req := DefaultInitRequest()
	req.SceneID = "arena"
	return req
}

var nearPillar = query.Request{
	QueryID:             "near-pillar",
	ConditionsJSON:      `[{"type":"DistanceTo","parameters":{"targetPoint":[5,0.5,5],"maxDistance":2}}]`,
	ScoringCriteriaJSON: `[{"type":"ProximityTo","parameters":{"targetPoint":[2.5,0.5,2.5],"maxDistance":10}}]`,
	DesiredResultCount:  3,
}

func TestInitializeSummary(t *testing.T) {
	svc, rec := newService(t)
	sum, err := svc.InitializeEnvironment(context.Background(), arenaRequest())
	require.NoError(t, err)

	assert.False(t, sum.FromCache)
	assert.Equal(t, "arena", sum.SceneID)
	assert.Len(t, sum.Hash, 16)
	assert.Equal(t, 1.0, sum.CellSize)
	assert.Equal(t, spatial.I(10, 3, 10), sum.Dimensions)
	assert.Equal(t, spatial.V(0, -1, 0), sum.Origin)
	assert.Equal(t, 300, sum.TotalCells)
	assert.Equal(t, 2, sum.StaticObjects)
	assert.Equal(t, 1, sum.DynamicObjects)
	assert.Equal(t, []string{EventEnvironmentInitialized}, rec.types())

	got, ok := svc.Environment()
	require.True(t, ok)
	assert.Equal(t, sum.Hash, got.Hash)
}

func TestInitializeReusesIdenticalEnvironment(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first, err := svc.InitializeEnvironment(ctx, arenaRequest())
	require.NoError(t, err)
	g := svc.env.Grid

	second, err := svc.InitializeEnvironment(ctx, arenaRequest())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Same(t, g, svc.env.Grid, "grid must not be reallocated")

	forced := arenaRequest()
	forced.ForceReinitialize = true
	third, err := svc.InitializeEnvironment(ctx, forced)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.NotSame(t, g, svc.env.Grid)
	assert.Equal(t, 0, g.Len(), "previous grid is released")

	coarse := arenaRequest()
	size := 2.0
	coarse.GridCellSizeOverride = &size
	fourth, err := svc.InitializeEnvironment(ctx, coarse)
	require.NoError(t, err)
	assert.False(t, fourth.FromCache)
	assert.NotEqual(t, first.Hash, fourth.Hash)
	assert.Equal(t, 2.0, fourth.CellSize)
}

func TestInitializeOverrides(t *testing.T) {
	svc, _ := newService(t)
	req := arenaRequest()
	dims := spatial.I(5, 1, 5)
	req.GridDimensionsOverride = &dims
	req.IncludeDynamicObjects = false
	sum, err := svc.InitializeEnvironment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, dims, sum.Dimensions)
	assert.Equal(t, 25, sum.TotalCells)
	assert.Equal(t, 0, sum.DynamicObjects)

	bad := arenaRequest()
	zero := 0.0
	bad.GridCellSizeOverride = &zero
	_, err = svc.InitializeEnvironment(context.Background(), bad)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	bad = arenaRequest()
	flat := spatial.I(5, 0, 5)
	bad.GridDimensionsOverride = &flat
	_, err = svc.InitializeEnvironment(context.Background(), bad)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	_, ok := svc.Environment()
	assert.True(t, ok, "rejected parameters leave the current environment alone")
}

func TestFailedInitializationResetsEverything(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeEnvironment(ctx, arenaRequest())
	require.NoError(t, err)
	_, err = svc.PerformQuery(ctx, nearPillar)
	require.NoError(t, err)
	_, ok := svc.CachedResult("near-pillar")
	require.True(t, ok)
	g := svc.env.Grid

	req := arenaRequest()
	req.SceneID = "nowhere"
	_, err = svc.InitializeEnvironment(ctx, req)
	assert.ErrorIs(t, err, eqserr.ErrSceneNotFound)

	_, ok = svc.Environment()
	assert.False(t, ok)
	_, ok = svc.CachedResult("near-pillar")
	assert.False(t, ok)
	assert.Equal(t, 0, g.Len())

	ev := rec.last()
	require.Equal(t, EventEnvironmentReset, ev.Type())
	assert.Equal(t, "initialization failed", ev.Data().(ResetEvent).Reason)

	res, err := svc.PerformQuery(ctx, nearPillar)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err(), eqserr.ErrEnvironmentNotInitialized)
}

func TestPerformQuery(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	res, err := svc.PerformQuery(ctx, nearPillar)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), eqserr.ErrEnvironmentNotInitialized)

	_, err = svc.InitializeEnvironment(ctx, arenaRequest())
	require.NoError(t, err)
	res, err = svc.PerformQuery(ctx, nearPillar)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.ErrorMessage)
	require.Len(t, res.Results, 3)
	assert.Greater(t, len(res.Ranked), 3)

	target := spatial.V(5, 0.5, 5)
	for _, c := range res.Ranked {
		assert.LessOrEqual(t, spatial.Dist(target, c.Position), 2.0)
	}

	ev := rec.last()
	require.Equal(t, EventQueryCompleted, ev.Type())
	assert.Same(t, res, ev.Data())
	assert.Equal(t, "success", ev.Metadata()["status"])

	cached, ok := svc.CachedResult("near-pillar")
	require.True(t, ok)
	assert.Same(t, res, cached)
}

func TestPerformQueryErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	bad := nearPillar
	bad.ConditionsJSON = `[{"type":"DistanceTo","parameters":{"targetPoint":"ghost"}}]`
	_, err := svc.PerformQuery(ctx, bad)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
	_, cached := svc.CachedResult(bad.QueryID)
	assert.False(t, cached)

	bad = nearPillar
	bad.ScoringCriteriaJSON = `{`
	_, err = svc.PerformQuery(ctx, bad)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = svc.PerformQuery(cancelled, nearPillar)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetPublishesAndClears(t *testing.T) {
	svc, rec := newService(t)
	_, err := svc.InitializeEnvironment(context.Background(), arenaRequest())
	require.NoError(t, err)
	svc.Reset()
	_, ok := svc.Environment()
	assert.False(t, ok)
	assert.Equal(t, []string{EventEnvironmentInitialized, EventEnvironmentReset}, rec.types())
}

func TestConcurrentQueriesAndReinit(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.InitializeEnvironment(ctx, arenaRequest())
	require.NoError(t, err)

	forced := arenaRequest()
	forced.ForceReinitialize = true
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := svc.PerformQuery(ctx, nearPillar)
			assert.NoError(t, err)
			assert.True(t, res.Succeeded())
		}()
		go func() {
			defer wg.Done()
			_, err := svc.InitializeEnvironment(ctx, forced)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
