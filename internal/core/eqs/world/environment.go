package world

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// StaticGeometryRecord is an immutable copy of a non-movable renderable object.
type StaticGeometryRecord struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Bounds spatial.AABB `json:"bounds"`
	Type   string       `json:"type"`
}

// DynamicObjectRecord is a snapshot of a movable object. Positions are not
// tracked; re-initialize to refresh them.
type DynamicObjectRecord struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Position   spatial.Vec3  `json:"position"`
	Type       string        `json:"type"`
	Properties params.Params `json:"properties,omitempty"`
}

// Config is everything that determines the shape of an Environment.
type Config struct {
	SceneID               string
	IncludeStaticGeometry bool
	IncludeDynamicObjects bool
	DynamicObjectTags     []string
	CellSize              float64
	Dimensions            *spatial.IVec3
	BoundsMargin          float64
}

// canonical is a stable textual encoding used for hashing.
func (c Config) canonical() string {
	tags := make([]string, len(c.DynamicObjectTags))
	for i, t := range c.DynamicObjectTags {
		tags[i] = strings.ToLower(t)
	}
	slices.Sort(tags)
	dims := "auto"
	if c.Dimensions != nil {
		dims = c.Dimensions.String()
	}
	var b strings.Builder
	b.WriteString("scene=")
	b.WriteString(c.SceneID)
	b.WriteString(";static=")
	b.WriteString(strconv.FormatBool(c.IncludeStaticGeometry))
	b.WriteString(";dynamic=")
	b.WriteString(strconv.FormatBool(c.IncludeDynamicObjects))
	b.WriteString(";tags=")
	b.WriteString(strings.Join(tags, ","))
	b.WriteString(";cell=")
	b.WriteString(strconv.FormatFloat(c.CellSize, 'g', -1, 64))
	b.WriteString(";dims=")
	b.WriteString(dims)
	b.WriteString(";margin=")
	b.WriteString(strconv.FormatFloat(c.BoundsMargin, 'g', -1, 64))
	return b.String()
}

// Hash is a fast-path cache key. Equal must still be checked before reuse.
func (c Config) Hash() uint64 { return xxhash.Sum64String(c.canonical()) }

// Equal compares the canonical encodings, so tag order and case do not matter.
func (c Config) Equal(o Config) bool { return c.canonical() == o.canonical() }

// BuildOptions carries engine-level defaults.
type BuildOptions struct {
	// DefaultBounds is used when the scene has no renderable geometry.
	DefaultBounds spatial.AABB
	MaxCells      int
}

// DefaultBounds is a 100x10x100 box centred on the origin.
func DefaultBounds() spatial.AABB {
	return spatial.BoxAt(spatial.Zero, spatial.V(100, 10, 100))
}

// Environment is an initialized snapshot: grid, object catalogs and oracle.
// It is read-only while queries run.
type Environment struct {
	Config    Config
	Hash      uint64
	SceneID   string
	Grid      *grid.Grid
	Static    []StaticGeometryRecord
	Dynamic   []DynamicObjectRecord
	Oracle    oracle.Oracle
	CreatedAt time.Time
	BuildTime time.Duration

	dynamicByID map[string]int
}

// DynamicObject looks up a dynamic record by id.
func (e *Environment) DynamicObject(id string) (DynamicObjectRecord, bool) {
	i, ok := e.dynamicByID[id]
	if !ok {
		return DynamicObjectRecord{}, false
	}
	return e.Dynamic[i], true
}

// Placeholder is a one-cell environment with no objects and no oracle. Queries
// compile against it when nothing is initialized, so malformed parameters are
// still reported as configuration errors.
func Placeholder() *Environment {
	g, err := grid.New(spatial.Zero, spatial.I(1, 1, 1), 1, grid.Options{})
	if err != nil {
		panic(err)
	}
	return &Environment{Grid: g, Oracle: oracle.None{}, dynamicByID: map[string]int{}}
}

// Release clears the grid and catalogs so nothing keeps stale references.
func (e *Environment) Release() {
	if e == nil {
		return
	}
	if e.Grid != nil {
		e.Grid.Reset()
	}
	e.Static = nil
	e.Dynamic = nil
	e.dynamicByID = nil
	e.Oracle = nil
}

// Build loads the scene, snapshots it and annotates a fresh grid. On error the
// partial environment is released and nil is returned.
func Build(ctx context.Context, src SceneSource, cfg Config, opts BuildOptions) (*Environment, error) {
	start := time.Now()
	if src == nil {
		return nil, eqserr.Configf("no scene source configured")
	}
	if !(cfg.CellSize > 0) || math.IsInf(cfg.CellSize, 0) {
		return nil, eqserr.Configf("grid cell size must be positive, got %g", cfg.CellSize)
	}
	if cfg.BoundsMargin < 0 {
		return nil, eqserr.Configf("bounds margin must not be negative")
	}

	env := &Environment{Config: cfg, Hash: cfg.Hash(), CreatedAt: start}
	if err := env.populate(ctx, src, opts); err != nil {
		env.Release()
		return nil, err
	}
	env.BuildTime = time.Since(start)
	return env, nil
}

func (e *Environment) populate(ctx context.Context, src SceneSource, opts BuildOptions) error {
	scene, err := src.LoadScene(ctx, e.Config.SceneID)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	e.SceneID = scene.ID
	e.Oracle = scene.Oracle
	if e.Oracle == nil {
		e.Oracle = oracle.None{}
	}

	e.Static, e.Dynamic = Snapshot(scene, e.Config)
	e.dynamicByID = make(map[string]int, len(e.Dynamic))
	for i, d := range e.Dynamic {
		e.dynamicByID[d.ID] = i
	}

	bounds, ok := sceneBounds(scene)
	if !ok {
		bounds = opts.DefaultBounds
		if bounds.Size() == spatial.Zero {
			bounds = DefaultBounds()
		}
	}
	bounds = bounds.Expand(e.Config.BoundsMargin)

	if err = ctx.Err(); err != nil {
		return err
	}
	g, err := grid.FromBounds(bounds, e.Config.CellSize, e.Config.Dimensions, grid.Options{MaxCells: opts.MaxCells})
	if err != nil {
		return err
	}
	e.Grid = g
	return annotate(ctx, e, scene)
}

// Snapshot classifies scene objects into static geometry and dynamic records.
func Snapshot(scene *Scene, cfg Config) ([]StaticGeometryRecord, []DynamicObjectRecord) {
	var static []StaticGeometryRecord
	var dynamic []DynamicObjectRecord
	for _, o := range scene.Objects {
		switch {
		case o.Movable:
			if !cfg.IncludeDynamicObjects || !tagAllowed(o.Tag, cfg.DynamicObjectTags) {
				continue
			}
			dynamic = append(dynamic, DynamicObjectRecord{
				ID:         o.ID,
				Name:       o.Name,
				Position:   o.Position,
				Type:       o.Tag,
				Properties: o.Properties.Clone(),
			})
		case o.Bounds != nil:
			if !cfg.IncludeStaticGeometry {
				continue
			}
			static = append(static, StaticGeometryRecord{
				ID:     o.ID,
				Name:   o.Name,
				Bounds: o.Bounds.Canon(),
				Type:   o.Tag,
			})
		}
	}
	return static, dynamic
}

func tagAllowed(tag string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if strings.EqualFold(a, tag) {
			return true
		}
	}
	return false
}

func sceneBounds(scene *Scene) (spatial.AABB, bool) {
	var out spatial.AABB
	found := false
	for _, o := range scene.Objects {
		if o.Bounds == nil {
			continue
		}
		b := o.Bounds.Canon()
		if !found {
			out, found = b, true
			continue
		}
		out = out.Union(b)
	}
	return out, found
}

// annotate marks static occupancy, dynamic occupants, cover and property volumes.
// It is O(cells x objects) and runs once per initialization.
func annotate(ctx context.Context, env *Environment, scene *Scene) error {
	g := env.Grid
	cellSize := g.CellSize()
	var volumes []*PropertyVolume
	for i := range scene.Objects {
		if v := scene.Objects[i].Volume; v != nil {
			volumes = append(volumes, v)
		}
	}

	for i := 0; i < g.Len(); i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		c := g.Cell(i)
		for _, s := range env.Static {
			if s.Bounds.Contains(c.WorldPosition) {
				c.StaticOccupancy = true
				break
			}
		}
		for _, d := range env.Dynamic {
			if spatial.Dist(d.Position, c.WorldPosition) <= cellSize {
				c.DynamicOccupants = append(c.DynamicOccupants, d.ID)
			}
		}
		for _, v := range volumes {
			if !v.Bounds.Canon().Contains(c.WorldPosition) {
				continue
			}
			for k, val := range v.Properties {
				c.Properties[k] = val
			}
		}
		if c.StaticOccupancy {
			c.Properties[grid.PropWalkable] = params.Bool(false)
		}
	}

	// Free cells beside solid geometry offer cover.
	sides := []spatial.IVec3{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}
	for i := 0; i < g.Len(); i++ {
		c := g.Cell(i)
		if c.StaticOccupancy {
			continue
		}
		for _, s := range sides {
			if n, ok := g.At(c.Indices.Add(s)); ok && n.StaticOccupancy {
				c.Properties[grid.PropHasCover] = params.Bool(true)
				break
			}
		}
	}
	return nil
}
