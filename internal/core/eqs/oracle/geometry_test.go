package oracle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/spatial"
)

func testGeometry() *Geometry {
	return NewGeometry([]Object{
		{
			ID: "wall-1", Name: "Wall",
			Colliders: []Collider{{Bounds: spatial.AABB{Min: spatial.V(4, 0, -5), Max: spatial.V(5, 3, 5)}}},
		},
		{
			ID: "zone-1", Name: "Capture Zone",
			Colliders: []Collider{{Bounds: spatial.AABB{Min: spatial.V(-2, 0, -2), Max: spatial.V(2, 2, 2)}, Trigger: true}},
		},
		{
			ID: "crate-1", Name: "Crate",
			Colliders: []Collider{{Bounds: spatial.AABB{Min: spatial.V(-10, 0, -10), Max: spatial.V(-9, 1, -9)}, Layer: 3}},
		},
	})
}

func TestRaycastNearestSolid(t *testing.T) {
	g := testGeometry()

	hit, ok, err := g.Raycast(spatial.V(0, 1, 0), spatial.Right, 10, AllLayers)
	require.NoError(t, err)
	require.True(t, ok, "trigger zone is ignored, wall is hit")
	assert.Equal(t, "wall-1", hit.ObjectID)
	assert.InDelta(t, 4, hit.Distance, 1e-9)
	assert.Equal(t, spatial.V(4, 1, 0), hit.Point)

	_, ok, err = g.Raycast(spatial.V(0, 1, 0), spatial.Right, 3, AllLayers)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayerMask(t *testing.T) {
	g := testGeometry()
	from := spatial.V(-9.5, 0.5, -20)

	_, ok, err := g.Raycast(from, spatial.Forward, 30, AllLayers)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = g.Raycast(from, spatial.Forward, 30, LayerMask(1))
	require.NoError(t, err)
	assert.False(t, ok, "crate lives on layer 3")
}

func TestLinecastAndSphere(t *testing.T) {
	g := testGeometry()

	blocked, err := Linecast(g, spatial.V(0, 1, 0), spatial.V(8, 1, 0), AllLayers)
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = Linecast(g, spatial.V(0, 1, 0), spatial.V(0, 1, 8), AllLayers)
	require.NoError(t, err)
	assert.False(t, blocked)

	over, err := g.CheckSphere(spatial.V(3.6, 1, 0), 0.5, AllLayers)
	require.NoError(t, err)
	assert.True(t, over)

	over, err = g.CheckSphere(spatial.V(0, 1, 0), 0.5, AllLayers)
	require.NoError(t, err)
	assert.False(t, over, "triggers never overlap")
}

func TestResolveObject(t *testing.T) {
	g := testGeometry()

	obj, err := g.ResolveObject("crate-1")
	require.NoError(t, err)
	assert.Equal(t, "Crate", obj.Name)

	obj, err = g.ResolveObject("capture zone")
	require.NoError(t, err)
	assert.Equal(t, "zone-1", obj.ID)
	require.Len(t, obj.Colliders, 1)
	assert.Equal(t, "zone-1", obj.Colliders[0].ObjectID)

	_, err = g.ResolveObject("ghost")
	assert.ErrorIs(t, err, eqserr.ErrObjectNotFound)
}

func TestUnavailableWrapping(t *testing.T) {
	err := Unavailable("raycast", errors.New("physics scene unloaded"))
	assert.ErrorIs(t, err, eqserr.ErrOracleUnavailable)
	assert.Contains(t, err.Error(), "physics scene unloaded")

	assert.Same(t, err, Unavailable("again", err))
}
