package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/spatial"
)

func TestDecodeJSON(t *testing.T) {
	var p Params
	err := json.Unmarshal([]byte(`{
		"targetPoint": [5, 0, 5],
		"maxDistance": 3,
		"distanceMode": "horizontal",
		"invert": true,
		"weights": [1, 2.5],
		"nested": {"x": 1, "y": 2, "z": 3},
		"nothing": null
	}`), &p)
	require.NoError(t, err)

	pt, ok, err := p.Point("targetPoint")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spatial.V(5, 0, 5), pt.Vec)

	maxD, err := p.Float("maxDistance", 100)
	require.NoError(t, err)
	assert.Equal(t, 3.0, maxD)

	minD, err := p.Float("minDistance", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, minD, "default used when absent")

	mode, err := p.String("DISTANCEMODE", "")
	require.NoError(t, err)
	assert.Equal(t, "horizontal", mode, "case-insensitive fallback")

	ws, err := p.FloatList("weights")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, ws)

	nested, ok, err := p.Point("nested")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spatial.V(1, 2, 3), nested.Vec)

	assert.False(t, p.Has("nothing"), "null counts as absent")
}

func TestDecodeYAML(t *testing.T) {
	var p Params
	require.NoError(t, yaml.Unmarshal([]byte("samples: 5\nlabel: cover\npoints:\n  - [1, 2, 3]\n  - player\n"), &p))

	n, err := p.Int("samples", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	pts, err := p.PointList("points")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, spatial.V(1, 2, 3), pts[0].Vec)
	assert.Equal(t, "player", pts[1].Ref)
	assert.True(t, pts[1].IsRef())
}

func TestMalformedShapesAreConfigurationErrors(t *testing.T) {
	p := Params{
		"maxDistance": String("far"),
		"targetPoint": Floats(1, 2),
		"samples":     Number(2.5),
		"flag":        Number(1),
		"name":        Number(3),
	}

	_, err := p.Float("maxDistance", 0)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	_, _, err = p.Point("targetPoint")
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	_, err = p.Int("samples", 0)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	_, err = p.Bool("flag", false)
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)

	_, err = p.String("name", "")
	assert.ErrorIs(t, err, eqserr.ErrConfiguration)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, String("Grass").Equal(String("Grass")))
	assert.False(t, String("Grass").Equal(String("grass")))
	assert.True(t, Bool(true).Equal(String("true")))
	assert.True(t, Number(2).Equal(String("2")))
	assert.False(t, Number(2).Equal(Bool(true)))
	assert.True(t, Floats(1, 2).Equal(Floats(1, 2)))
}

func TestValueJSONRoundTrip(t *testing.T) {
	in := Params{"a": Floats(1, 2), "b": Object(Params{"c": Bool(true)}), "d": String("x")}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2],"b":{"c":true},"d":"x"}`, string(b))
}

func TestFromAnyRejectsUnknownTypes(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	v, err := FromAny(map[string]any{"k": []any{1, "two"}})
	require.NoError(t, err)
	obj, ok := v.AsObject()
	require.True(t, ok)
	arr, ok := obj["k"].AsArray()
	require.True(t, ok)
	assert.Equal(t, KindNumber, arr[0].Kind())
	assert.Equal(t, KindString, arr[1].Kind())
}
