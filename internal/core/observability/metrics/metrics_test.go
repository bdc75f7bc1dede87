package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/events/bus"
)

const scene = `
scenes:
  - id: plain
    objects:
      - id: floor
        bounds: {min: [0, 0, 0], max: [4, 1, 4]}
`

func TestMetricsFollowServiceEvents(t *testing.T) {
	src, err := world.ParseSceneFile(strings.NewReader(scene))
	require.NoError(t, err)
	b := bus.New()
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Attach(b))

	svc := eqs.NewService(src, nil, b, eqs.DefaultOptions(), nil)
	ctx := context.Background()
	_, err = svc.PerformQuery(ctx, query.Request{QueryID: "early", DesiredResultCount: 1})
	require.NoError(t, err)

	_, err = svc.InitializeEnvironment(ctx, eqs.DefaultInitRequest())
	require.NoError(t, err)
	_, err = svc.InitializeEnvironment(ctx, eqs.DefaultInitRequest())
	require.NoError(t, err)
	_, err = svc.PerformQuery(ctx, query.Request{QueryID: "q", DesiredResultCount: 2})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initTotal.WithLabelValues("hit")))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.gridCells))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.busEvents.WithLabelValues(eqs.EventQueryCompleted)))

	svc.Reset()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resets))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.gridCells))

	require.NoError(t, m.Detach(b))
	_, err = svc.PerformQuery(ctx, query.Request{QueryID: "late", DesiredResultCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("failure")), "detached collectors stop counting")
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}
