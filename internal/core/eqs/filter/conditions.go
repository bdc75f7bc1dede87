package filter

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

var targetKeys = []string{"targetPoint", "target", "point", "position"}

// NewDistanceTo passes cells whose distance to the target lies in
// [minDistance, maxDistance], both inclusive. In squared mode the bounds are
// compared against the squared distance.
func NewDistanceTo(sc *eval.Scope, p params.Params) (Condition, error) {
	target, err := sc.RequirePoint(p, targetKeys...)
	if err != nil {
		return nil, err
	}
	lo, err := p.Float("minDistance", 0)
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("maxDistance", math.Inf(1))
	if err != nil {
		return nil, err
	}
	if lo < 0 || hi < lo {
		return nil, eqserr.Configf("distance range [%g, %g] is empty", lo, hi)
	}
	modeName, err := p.String("distanceMode", "")
	if err != nil {
		return nil, err
	}
	mode, err := spatial.ParseDistanceMode(modeName)
	if err != nil {
		return nil, eqserr.Field("distanceMode", err)
	}
	return CheckFunc(func(cell *grid.Cell) (bool, error) {
		d := spatial.Distance(cell.WorldPosition, target, mode)
		return d >= lo && d <= hi, nil
	}), nil
}

type clearance struct {
	height, radius, ground float64
	cellSize               float64
	mask                   oracle.LayerMask
	oracle                 oracle.Oracle
	fan                    []spatial.Vec3
}

// NewClearance requires a walkable, unoccupied cell with headroom, horizontal
// room and ground support.
func NewClearance(sc *eval.Scope, p params.Params) (Condition, error) {
	c := &clearance{cellSize: sc.Grid().CellSize(), oracle: sc.Oracle(), fan: spatial.HorizontalFan()}
	var err error
	if c.height, err = p.Float("requiredHeight", 2); err != nil {
		return nil, err
	}
	if c.radius, err = p.Float("requiredRadius", 0.5); err != nil {
		return nil, err
	}
	if c.ground, err = p.Float("groundCheckDistance", 0.5); err != nil {
		return nil, err
	}
	if c.height < 0 || c.radius < 0 || c.ground < 0 {
		return nil, eqserr.Configf("clearance distances must not be negative")
	}
	if c.mask, err = eval.LayerMask(p); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *clearance) Check(cell *grid.Cell) (bool, error) {
	if cell.StaticOccupancy || !cell.Walkable() {
		return false, nil
	}
	origin := cell.WorldPosition
	if c.height > 0 {
		_, hit, err := c.oracle.Raycast(origin, spatial.Up, c.height, c.mask)
		if err != nil {
			return false, oracle.Unavailable("clearance headroom", err)
		}
		if hit {
			return false, nil
		}
	}
	if c.radius > 0 {
		for _, dir := range c.fan {
			_, hit, err := c.oracle.Raycast(origin, dir, c.radius, c.mask)
			if err != nil {
				return false, oracle.Unavailable("clearance radius", err)
			}
			if hit {
				return false, nil
			}
		}
	}
	_, grounded, err := c.oracle.Raycast(origin, spatial.Down, c.cellSize/2+c.ground, c.mask)
	if err != nil {
		return false, oracle.Unavailable("clearance ground", err)
	}
	return grounded, nil
}

// NewCustomProperty compares a cell property with value. "contains" matches
// substrings case-insensitively, or elements when the property is an array.
func NewCustomProperty(_ *eval.Scope, p params.Params) (Condition, error) {
	name, err := p.String("propertyName", "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, eqserr.Configf("missing required parameter %q", "propertyName")
	}
	want, ok := p.Lookup("value")
	if !ok {
		return nil, eqserr.Configf("missing required parameter %q", "value")
	}
	cmp, err := p.String("comparison", "equals")
	if err != nil {
		return nil, err
	}
	var match func(have params.Value) bool
	switch strings.ToLower(cmp) {
	case "equals", "equal", "eq", "==":
		match = want.Equal
	case "contains":
		needle := strings.ToLower(want.String())
		match = func(have params.Value) bool {
			if arr, ok := have.AsArray(); ok {
				for _, e := range arr {
					if e.Equal(want) {
						return true
					}
				}
				return false
			}
			return strings.Contains(strings.ToLower(have.String()), needle)
		}
	default:
		return nil, eqserr.Configf("comparison: unknown mode %q (want equals or contains)", cmp)
	}
	return CheckFunc(func(cell *grid.Cell) (bool, error) {
		have, ok := cell.Properties.Lookup(name)
		if !ok {
			return false, nil
		}
		return match(have), nil
	}), nil
}

type visibility struct {
	target         spatial.Vec3
	targetObject   string
	eyeHeight      float64
	samples        int
	required       float64
	jitter         float64
	maxDistance    float64
	viewDirection  spatial.Vec3
	viewHalfAngle  float64
	mask           oracle.LayerMask
	oracle         oracle.Oracle
	grid           *grid.Grid
	unresolvedFail bool
}

// NewVisibilityOf passes cells from which enough sampled sight lines reach the
// target unobstructed. Sample 0 aims at the target itself; later samples are
// jittered with a generator seeded by the cell index so results repeat.
func NewVisibilityOf(sc *eval.Scope, p params.Params) (Condition, error) {
	v := &visibility{oracle: sc.Oracle(), grid: sc.Grid(), maxDistance: math.Inf(1)}
	target, ok, err := sc.Point(p, targetKeys...)
	if err != nil {
		return nil, err
	}
	if !ok {
		ref, err := p.String("targetObject", "")
		if err != nil {
			return nil, err
		}
		if ref == "" {
			return nil, eqserr.Configf("missing required parameter %q or %q", "targetPoint", "targetObject")
		}
		obj, found, err := sc.ResolveObject(ref)
		if err != nil {
			return nil, err
		}
		if !found {
			sc.Log.Warn("visibility target object not found, condition fails",
				log.String("query_id", sc.Query.ID), log.String("object", ref))
			v.unresolvedFail = true
		}
		target, v.targetObject = obj.Position, obj.ID
	}
	offset, err := p.Float("targetHeightOffset", 0)
	if err != nil {
		return nil, err
	}
	v.target = target.Add(spatial.V(0, offset, 0))

	if v.eyeHeight, err = p.Float("eyeHeight", 1.7); err != nil {
		return nil, err
	}
	if v.samples, err = p.Int("samples", 3); err != nil {
		return nil, err
	}
	if v.samples < 1 {
		return nil, eqserr.Configf("samples must be at least 1")
	}
	if v.required, err = p.Float("requiredVisibility", 0.6); err != nil {
		return nil, err
	}
	if v.required < 0 || v.required > 1 {
		return nil, eqserr.Configf("requiredVisibility must be within [0, 1]")
	}
	if v.jitter, err = p.Float("jitterRadius", 0.1); err != nil {
		return nil, err
	}
	if v.maxDistance, err = p.Float("maxDistance", math.Inf(1)); err != nil {
		return nil, err
	}
	viewDir, hasDir, err := p.Point("viewDirection")
	if err != nil {
		return nil, err
	}
	if hasDir {
		if viewDir.IsRef() {
			return nil, eqserr.Configf("viewDirection must be a vector")
		}
		v.viewDirection = viewDir.Vec.Normalize()
		angle, err := p.Float("viewAngle", 360)
		if err != nil {
			return nil, err
		}
		v.viewHalfAngle = angle / 2
	}
	if v.mask, err = eval.LayerMask(p); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *visibility) Check(cell *grid.Cell) (bool, error) {
	if v.unresolvedFail {
		return false, nil
	}
	eye := cell.WorldPosition.Add(spatial.V(0, v.eyeHeight, 0))
	if spatial.Dist(eye, v.target) > v.maxDistance {
		return false, nil
	}
	if v.viewDirection != spatial.Zero && v.viewHalfAngle < 180 {
		if v.viewDirection.AngleTo(v.target.Sub(eye)) > v.viewHalfAngle {
			return false, nil
		}
	}

	var rng *rand.Rand
	visible := 0
	for s := 0; s < v.samples; s++ {
		aim := v.target
		if s > 0 && v.jitter > 0 {
			if rng == nil {
				seed := uint64(v.grid.Index(cell.Indices))
				rng = rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
			}
			aim = aim.Add(spatial.V(
				(rng.Float64()*2-1)*v.jitter,
				(rng.Float64()*2-1)*v.jitter,
				(rng.Float64()*2-1)*v.jitter,
			))
		}
		blocked, err := v.blocked(eye, aim)
		if err != nil {
			return false, err
		}
		if !blocked {
			visible++
		}
	}
	return float64(visible)/float64(v.samples) >= v.required, nil
}

// blocked ignores hits on the target object itself.
func (v *visibility) blocked(from, to spatial.Vec3) (bool, error) {
	d := to.Sub(from)
	length := d.Len()
	if length == 0 {
		return false, nil
	}
	hit, ok, err := v.oracle.Raycast(from, d.Scale(1/length), length, v.mask)
	if err != nil {
		return false, oracle.Unavailable("visibility", err)
	}
	return ok && (v.targetObject == "" || hit.ObjectID != v.targetObject), nil
}

const proximityEpsilon = 0.01

type objectProximity struct {
	colliders []oracle.Collider
	mode      string
	min, max  float64
	hasMax    bool
	oracle    oracle.Oracle
}

// NewObjectProximity relates the cell to the surface of a resolved object's
// colliders. An unresolved object, or one without matching colliders, fails
// every cell.
func NewObjectProximity(sc *eval.Scope, p params.Params) (Condition, error) {
	ref := ""
	for _, k := range []string{"targetObject", "targetObjectId", "targetObjectName", "object"} {
		s, err := p.String(k, "")
		if err != nil {
			return nil, err
		}
		if s != "" {
			ref = s
			break
		}
	}
	if ref == "" {
		return nil, eqserr.Configf("missing required parameter %q", "targetObject")
	}
	kind, err := p.String("colliderType", "any")
	if err != nil {
		return nil, err
	}
	var accept oracle.ColliderFilter
	switch strings.ToLower(kind) {
	case "any", "":
		accept = oracle.AnyCollider
	case "trigger":
		accept = oracle.TriggerCollider
	case "solid", "collider":
		accept = oracle.SolidCollider
	default:
		return nil, eqserr.Configf("colliderType: unknown value %q", kind)
	}
	c := &objectProximity{oracle: sc.Oracle()}
	if c.mode, err = p.String("mode", "outside"); err != nil {
		return nil, err
	}
	c.mode = strings.ToLower(c.mode)
	switch c.mode {
	case "inside", "outside", "surface":
	default:
		return nil, eqserr.Configf("mode: unknown value %q (want inside, outside or surface)", c.mode)
	}
	if c.min, err = p.Float("minDistance", 0); err != nil {
		return nil, err
	}
	if c.max, c.hasMax, err = p.OptFloat("maxDistance"); err != nil {
		return nil, err
	}
	if !c.hasMax {
		c.max = math.Inf(1)
	}
	if c.max < c.min {
		return nil, eqserr.Configf("distance range [%g, %g] is empty", c.min, c.max)
	}

	obj, found, err := sc.ResolveObject(ref)
	if err != nil {
		return nil, err
	}
	if !found {
		sc.Log.Warn("proximity target object not found, condition fails",
			log.String("query_id", sc.Query.ID), log.String("object", ref))
		return c, nil
	}
	for _, col := range obj.Colliders {
		if accept.Accepts(col) {
			c.colliders = append(c.colliders, col)
		}
	}
	return c, nil
}

func (c *objectProximity) Check(cell *grid.Cell) (bool, error) {
	if len(c.colliders) == 0 {
		return false, nil
	}
	p := cell.WorldPosition
	d := math.Inf(1)
	for _, col := range c.colliders {
		q, err := c.oracle.ClosestPoint(col, p)
		if err != nil {
			return false, oracle.Unavailable("closest point", err)
		}
		d = min(d, spatial.Dist(p, q))
	}
	inside := d < proximityEpsilon
	switch c.mode {
	case "inside":
		return inside, nil
	case "outside":
		if inside {
			return false, nil
		}
		return !c.hasMax || (d >= c.min && d <= c.max), nil
	default:
		return d >= c.min && d <= c.max, nil
	}
}
