package spatial

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3JSON(t *testing.T) {
	b, err := json.Marshal(V(1, 2.5, -3))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2.5,-3]`, string(b))

	var v Vec3
	require.NoError(t, json.Unmarshal([]byte(`{"x":4,"y":5,"z":6}`), &v))
	assert.Equal(t, V(4, 5, 6), v)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"north"`), &v))
}

func TestDistanceModes(t *testing.T) {
	a, b := V(0, 0, 0), V(3, 4, 12)

	cases := map[DistanceMode]float64{
		Euclidean:        13,
		Manhattan:        19,
		Chebyshev:        12,
		Horizontal:       math.Hypot(3, 12),
		Vertical:         4,
		SquaredEuclidean: 169,
	}
	for mode, want := range cases {
		assert.InDelta(t, want, Distance(a, b, mode), 1e-9, mode.String())
	}
}

func TestParseDistanceMode(t *testing.T) {
	m, err := ParseDistanceMode("Horizontal")
	require.NoError(t, err)
	assert.Equal(t, Horizontal, m)

	m, err = ParseDistanceMode("")
	require.NoError(t, err)
	assert.Equal(t, Euclidean, m)

	_, err = ParseDistanceMode("taxicab")
	assert.Error(t, err)
}

func TestAABB(t *testing.T) {
	box := BoxAt(V(0, 0, 0), V(2, 2, 2))
	assert.True(t, box.Contains(V(1, 1, 1)), "faces are inclusive")
	assert.False(t, box.Contains(V(1.01, 0, 0)))
	assert.Equal(t, V(1, 0, 0.5), box.ClosestPoint(V(5, 0, 0.5)))

	dist, hit := box.IntersectRay(V(-5, 0, 0), Right, 10)
	require.True(t, hit)
	assert.InDelta(t, 4, dist, 1e-9)

	_, hit = box.IntersectRay(V(-5, 0, 0), Right, 3.9)
	assert.False(t, hit, "beyond max distance")

	_, hit = box.IntersectRay(V(0, 0, 0), Right, 10)
	assert.False(t, hit, "ray starting inside")

	_, hit = box.IntersectRay(V(-5, 3, 0), Right, 10)
	assert.False(t, hit, "parallel ray outside slab")
}

func TestVecHelpers(t *testing.T) {
	assert.Equal(t, Zero, Zero.Normalize())
	assert.InDelta(t, 90, Right.AngleTo(Up), 1e-9)
	assert.InDelta(t, 1, V(0, 3, 4).Normalize().Len(), 1e-12)
	assert.False(t, V(math.NaN(), 0, 0).IsFinite())
	assert.Equal(t, 24, I(2, 3, 4).Product())
}
