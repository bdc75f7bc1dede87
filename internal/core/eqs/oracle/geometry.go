package oracle

import (
	"fmt"
	"math"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/spatial"
)

var _ Oracle = (*Geometry)(nil)

// Geometry answers queries against a fixed set of box colliders. It backs the
// YAML scene host and the tests. It is immutable after construction.
type Geometry struct {
	colliders []Collider
	byID      map[string]int
	byName    map[string]int
	objects   []Object
}

func NewGeometry(objects []Object) *Geometry {
	g := &Geometry{
		byID:    make(map[string]int, len(objects)),
		byName:  make(map[string]int, len(objects)),
		objects: make([]Object, len(objects)),
	}
	for i, o := range objects {
		cs := make([]Collider, len(o.Colliders))
		for j, c := range o.Colliders {
			c.ObjectID = o.ID
			c.Bounds = c.Bounds.Canon()
			if c.ID == "" {
				c.ID = fmt.Sprintf("%s#%d", o.ID, j)
			}
			cs[j] = c
			g.colliders = append(g.colliders, c)
		}
		o.Colliders = cs
		g.objects[i] = o
		if _, dup := g.byID[o.ID]; !dup {
			g.byID[o.ID] = i
		}
		name := strings.ToLower(o.Name)
		if _, dup := g.byName[name]; !dup && name != "" {
			g.byName[name] = i
		}
	}
	return g
}

func (g *Geometry) Raycast(origin, dir spatial.Vec3, maxDistance float64, mask LayerMask) (Hit, bool, error) {
	dir = dir.Normalize()
	if dir == spatial.Zero || !(maxDistance > 0) {
		return Hit{}, false, nil
	}
	best := Hit{Distance: math.Inf(1)}
	found := false
	for _, c := range g.colliders {
		if c.Trigger || !mask.Includes(c.Layer) {
			continue
		}
		t, ok := c.Bounds.IntersectRay(origin, dir, maxDistance)
		if !ok || t >= best.Distance {
			continue
		}
		best = Hit{Distance: t, Point: origin.Add(dir.Scale(t)), ColliderID: c.ID, ObjectID: c.ObjectID}
		found = true
	}
	if !found {
		return Hit{}, false, nil
	}
	return best, true, nil
}

func (g *Geometry) CheckSphere(center spatial.Vec3, radius float64, mask LayerMask) (bool, error) {
	r2 := radius * radius
	for _, c := range g.colliders {
		if c.Trigger || !mask.Includes(c.Layer) {
			continue
		}
		if c.Bounds.ClosestPoint(center).Sub(center).LenSq() <= r2 {
			return true, nil
		}
	}
	return false, nil
}

func (g *Geometry) ClosestPoint(c Collider, p spatial.Vec3) (spatial.Vec3, error) {
	return c.Bounds.ClosestPoint(p), nil
}

func (g *Geometry) ResolveObject(ref string) (Object, error) {
	if i, ok := g.byID[ref]; ok {
		return g.objects[i], nil
	}
	if i, ok := g.byName[strings.ToLower(ref)]; ok {
		return g.objects[i], nil
	}
	return Object{}, fmt.Errorf("%q: %w", ref, eqserr.ErrObjectNotFound)
}
