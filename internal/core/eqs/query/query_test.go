package query

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

func TestRequestDecode(t *testing.T) {
	q, err := Request{
		QueryID:             "q-1",
		ReferencePointsJSON: `[{"name":"Player","position":[5,0,5]}]`,
		AreaOfInterestJSON:  `{"type":"Sphere","center":{"x":5,"y":0,"z":5},"radius":3}`,
		ConditionsJSON:      `[{"conditionType":"DistanceTo","parameters":{"target":"player","maxDistance":4},"invert":true}]`,
		ScoringCriteriaJSON: `[{"type":"ProximityTo","parameters":{"target":[1,2,3]},"weight":2},{"criterionType":"HeightPreference"}]`,
		DesiredResultCount:  3,
	}.Decode()
	require.NoError(t, err)

	assert.Equal(t, "q-1", q.ID)
	require.Len(t, q.ReferencePoints, 1)
	pos, ok := q.Reference("player")
	require.True(t, ok)
	assert.Equal(t, spatial.V(5, 0, 5), pos)

	require.NotNil(t, q.AreaOfInterest)
	assert.Equal(t, AreaSphere, q.AreaOfInterest.Type)
	assert.True(t, q.AreaOfInterest.Contains(spatial.V(6, 0, 6)))
	assert.False(t, q.AreaOfInterest.Contains(spatial.V(9, 0, 9)))

	require.Len(t, q.Conditions, 1)
	c := q.Conditions[0]
	assert.Equal(t, "DistanceTo", c.Type)
	assert.True(t, c.Invert)
	assert.Equal(t, 1.0, c.Weight)
	target, ok, err := c.Parameters.Point("target")
	require.NoError(t, err)
	require.True(t, ok)
	resolved, err := q.ResolvePoint(target)
	require.NoError(t, err)
	assert.Equal(t, spatial.V(5, 0, 5), resolved)

	require.Len(t, q.Criteria, 2)
	assert.Equal(t, 2.0, q.Criteria[0].Weight)
	assert.Equal(t, "HeightPreference", q.Criteria[1].Type)
	assert.Equal(t, 1.0, q.Criteria[1].Weight)
}

func TestRequestDecodeGeneratesID(t *testing.T) {
	q, err := Request{DesiredResultCount: 1}.Decode()
	require.NoError(t, err)
	_, err = uuid.Parse(q.ID)
	assert.NoError(t, err)
	assert.Empty(t, q.Conditions)
	assert.Nil(t, q.AreaOfInterest)
}

func TestRequestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]Request{
		"zero count":       {QueryID: "a"},
		"bad conditions":   {QueryID: "a", DesiredResultCount: 1, ConditionsJSON: `{"type":"x"}`},
		"condition string": {QueryID: "a", DesiredResultCount: 1, ConditionsJSON: `["DistanceTo"]`},
		"missing type":     {QueryID: "a", DesiredResultCount: 1, ScoringCriteriaJSON: `[{"weight":1}]`},
		"bad point":        {QueryID: "a", DesiredResultCount: 1, ReferencePointsJSON: `[{"name":"p","position":[1,2]}]`},
		"duplicate point":  {QueryID: "a", DesiredResultCount: 1, ReferencePointsJSON: `[{"name":"p","position":[1,2,3]},{"name":"P","position":[0,0,0]}]`},
		"unknown area":     {QueryID: "a", DesiredResultCount: 1, AreaOfInterestJSON: `{"type":"cone","center":[0,0,0]}`},
		"negative radius":  {QueryID: "a", DesiredResultCount: 1, AreaOfInterestJSON: `{"type":"sphere","center":[0,0,0],"radius":-1}`},
		"trailing garbage": {QueryID: "a", DesiredResultCount: 1, ConditionsJSON: `[] []`},
		"truncated json":   {QueryID: "a", DesiredResultCount: 1, ScoringCriteriaJSON: `[{"type":`},
		"negative weight":  {QueryID: "a", DesiredResultCount: 1, ScoringCriteriaJSON: `[{"type":"ProximityTo","weight":1},{"type":"FarthestFrom","weight":-0.5}]`},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := req.Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, eqserr.ErrConfiguration)
		})
	}
}

func TestBoxArea(t *testing.T) {
	a := &AreaOfInterest{Type: "BOX", Center: spatial.V(0, 0, 0), Size: spatial.V(4, 2, 4)}
	require.NoError(t, a.Validate())
	assert.True(t, a.Contains(spatial.V(2, 1, -2)))
	assert.False(t, a.Contains(spatial.V(2.1, 0, 0)))

	var none *AreaOfInterest
	assert.True(t, none.Contains(spatial.V(1e9, 0, 0)))
}

func TestResolveUnknownReference(t *testing.T) {
	q := &Query{ID: "x", DesiredResultCount: 1}
	_, err := q.ResolvePoint(params.Point{Ref: "ghost"})
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
}

func TestLoadYAML(t *testing.T) {
	doc := `
query_id: cover-search
desired_result_count: 5
reference_points:
  - name: threat
    position: [10, 0, 10]
area_of_interest:
  type: box
  center: [5, 0, 5]
  size: [10, 2, 10]
conditions:
  - type: Clearance
    parameters: {radius: 0.4}
scoring_criteria:
  - criterion_type: CoverQuality
    weight: 3
    parameters:
      threatPoints: [threat]
`
	q, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "cover-search", q.ID)
	assert.Equal(t, 5, q.DesiredResultCount)
	require.Len(t, q.Conditions, 1)
	assert.Equal(t, "Clearance", q.Conditions[0].Type)
	require.Len(t, q.Criteria, 1)
	assert.Equal(t, "CoverQuality", q.Criteria[0].Type)
	assert.Equal(t, 3.0, q.Criteria[0].Weight)
	pts, err := q.Criteria[0].Parameters.PointList("threatPoints")
	require.NoError(t, err)
	assert.Equal(t, []params.Point{{Ref: "threat"}}, pts)
}

func TestLoadJSON(t *testing.T) {
	q, err := LoadJSON(strings.NewReader(`{"desiredResultCount":2,"conditions":[{"type":"CustomProperty","parameters":{"propertyName":"terrainType","value":"grass"}}]}`))
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	require.Len(t, q.Conditions, 1)

	_, err = LoadJSON(strings.NewReader(`{"desiredResultCount":0}`))
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
}
