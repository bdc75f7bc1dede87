// Package grid implements the dense 3D cell grid every query runs over.
package grid

import (
	"fmt"
	"math"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// Well-known cell property keys.
const (
	PropWalkable    = "isWalkable"
	PropHasCover    = "hasCover"
	PropTerrainType = "terrainType"

	DefaultTerrain = "default"
)

// DefaultMaxCells bounds allocation when the caller does not set a limit.
const DefaultMaxCells = 4_000_000

// Cell is one sample of the grid. It is owned by its Grid.
type Cell struct {
	WorldPosition    spatial.Vec3
	Indices          spatial.IVec3
	StaticOccupancy  bool
	DynamicOccupants []string
	Properties       params.Params
}

// Walkable reads the isWalkable property. Cells without it count as walkable.
func (c *Cell) Walkable() bool {
	v, ok := c.Properties.Lookup(PropWalkable)
	if !ok {
		return true
	}
	b, ok := v.AsBool()
	return !ok || b
}

func (c *Cell) reset() {
	c.StaticOccupancy = false
	c.DynamicOccupants = nil
	c.Properties = nil
}

// Grid is a row-major (x fastest) array of cells covering a box.
type Grid struct {
	cellSize float64
	origin   spatial.Vec3
	dims     spatial.IVec3
	cells    []Cell
}

// Options tune grid allocation.
type Options struct {
	// MaxCells rejects grids larger than this. Zero means DefaultMaxCells.
	MaxCells int
}

// New allocates a grid at origin. Dimensions below 1 are clamped to 1.
func New(origin spatial.Vec3, dims spatial.IVec3, cellSize float64, opts Options) (*Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, eqserr.Configf("cell size must be positive, got %g", cellSize)
	}
	if !origin.IsFinite() {
		return nil, eqserr.Configf("grid origin must be finite")
	}
	dims = clampDims(dims)
	limit := opts.MaxCells
	if limit <= 0 {
		limit = DefaultMaxCells
	}
	if total := int64(dims.X) * int64(dims.Y) * int64(dims.Z); total > int64(limit) {
		return nil, eqserr.Configf("grid of %s cells (%d) exceeds limit %d", dims, total, limit)
	}

	g := &Grid{
		cellSize: cellSize,
		origin:   origin,
		dims:     dims,
		cells:    make([]Cell, dims.Product()),
	}
	g.assignPositions()
	return g, nil
}

// FromBounds covers bounds starting at its minimum corner. When dims is nil the
// dimensions are ceil(size/cellSize) per axis.
func FromBounds(bounds spatial.AABB, cellSize float64, dims *spatial.IVec3, opts Options) (*Grid, error) {
	if !(cellSize > 0) {
		return nil, eqserr.Configf("cell size must be positive, got %g", cellSize)
	}
	bounds = bounds.Canon()
	var d spatial.IVec3
	if dims != nil {
		d = *dims
	} else {
		size := bounds.Size()
		d = spatial.IVec3{
			X: int(math.Ceil(size.X / cellSize)),
			Y: int(math.Ceil(size.Y / cellSize)),
			Z: int(math.Ceil(size.Z / cellSize)),
		}
	}
	return New(bounds.Min, d, cellSize, opts)
}

func clampDims(d spatial.IVec3) spatial.IVec3 {
	if d.X < 1 {
		d.X = 1
	}
	if d.Y < 1 {
		d.Y = 1
	}
	if d.Z < 1 {
		d.Z = 1
	}
	return d
}

func (g *Grid) assignPositions() {
	for i := range g.cells {
		idx := g.Coordinate(i)
		g.cells[i] = Cell{
			Indices:       idx,
			WorldPosition: g.CellCenter(idx),
			Properties: params.Params{
				PropWalkable:    params.Bool(true),
				PropHasCover:    params.Bool(false),
				PropTerrainType: params.String(DefaultTerrain),
			},
		}
	}
}

func (g *Grid) CellSize() float64         { return g.cellSize }
func (g *Grid) Origin() spatial.Vec3      { return g.origin }
func (g *Grid) Dimensions() spatial.IVec3 { return g.dims }
func (g *Grid) Len() int                  { return len(g.cells) }
func (g *Grid) Cell(i int) *Cell          { return &g.cells[i] }
func (g *Grid) InBounds(c spatial.IVec3) bool {
	return c.X >= 0 && c.Y >= 0 && c.Z >= 0 && c.X < g.dims.X && c.Y < g.dims.Y && c.Z < g.dims.Z
}

// Bounds is the box the grid covers.
func (g *Grid) Bounds() spatial.AABB {
	return spatial.AABB{Min: g.origin, Max: g.origin.Add(g.dims.Vec().Scale(g.cellSize))}
}

// Index maps coordinates to the flat index x + y*dimX + z*dimX*dimY.
func (g *Grid) Index(c spatial.IVec3) int {
	return c.X + c.Y*g.dims.X + c.Z*g.dims.X*g.dims.Y
}

// Coordinate is the inverse of Index.
func (g *Grid) Coordinate(i int) spatial.IVec3 {
	layer := g.dims.X * g.dims.Y
	z := i / layer
	rem := i % layer
	return spatial.IVec3{X: rem % g.dims.X, Y: rem / g.dims.X, Z: z}
}

// CellCenter is origin + (indices + 0.5) * cellSize.
func (g *Grid) CellCenter(c spatial.IVec3) spatial.Vec3 {
	return g.origin.Add(c.Vec().Add(spatial.V(0.5, 0.5, 0.5)).Scale(g.cellSize))
}

// At returns the cell at c, or false when c is outside the grid.
func (g *Grid) At(c spatial.IVec3) (*Cell, bool) {
	if !g.InBounds(c) {
		return nil, false
	}
	return &g.cells[g.Index(c)], true
}

// WorldToCell locates the cell containing p.
func (g *Grid) WorldToCell(p spatial.Vec3) (spatial.IVec3, bool) {
	rel := p.Sub(g.origin).Scale(1 / g.cellSize)
	c := spatial.IVec3{X: int(math.Floor(rel.X)), Y: int(math.Floor(rel.Y)), Z: int(math.Floor(rel.Z))}
	return c, g.InBounds(c)
}

// Each visits cells in index order until fn returns false.
func (g *Grid) Each(fn func(i int, c *Cell) bool) {
	for i := range g.cells {
		if !fn(i, &g.cells[i]) {
			return
		}
	}
}

// Reset drops every cell's occupancy, occupants and properties and releases the
// cell array. The grid must not be queried afterwards.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i].reset()
	}
	g.cells = nil
}

func (g *Grid) String() string {
	return fmt.Sprintf("grid(origin=%s dims=%s cell=%g)", g.origin, g.dims, g.cellSize)
}
