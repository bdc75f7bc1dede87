// Package oracle defines the physics queries the engine delegates to its host.
//
// The engine never simulates physics. Raycasts, overlap tests, closest-point
// lookups and object resolution are answered by an Oracle supplied with the
// scene. A miss and a failure are different results: a miss is (false, nil),
// a failure returns an error wrapping eqserr.ErrOracleUnavailable.
package oracle

import (
	"errors"
	"fmt"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// LayerMask selects collider layers, one bit per layer.
type LayerMask uint32

const AllLayers LayerMask = ^LayerMask(0)

func (m LayerMask) Includes(layer int) bool {
	if layer < 0 || layer > 31 {
		return false
	}
	return m&(1<<uint(layer)) != 0
}

// ColliderFilter narrows ObjectProximity to trigger or solid colliders.
type ColliderFilter uint8

const (
	AnyCollider ColliderFilter = iota
	TriggerCollider
	SolidCollider
)

func (f ColliderFilter) Accepts(c Collider) bool {
	switch f {
	case TriggerCollider:
		return c.Trigger
	case SolidCollider:
		return !c.Trigger
	default:
		return true
	}
}

type Collider struct {
	ID       string       `json:"id" yaml:"id"`
	ObjectID string       `json:"object_id" yaml:"-"`
	Bounds   spatial.AABB `json:"bounds" yaml:"bounds"`
	Trigger  bool         `json:"trigger" yaml:"trigger"`
	Layer    int          `json:"layer" yaml:"layer"`
}

// Object is a resolved scene object with its colliders.
type Object struct {
	ID        string
	Name      string
	Tag       string
	Position  spatial.Vec3
	Colliders []Collider
}

type Hit struct {
	Distance   float64
	Point      spatial.Vec3
	ColliderID string
	ObjectID   string
}

// Oracle answers spatial queries against the host's physics world.
// Implementations must be safe for concurrent use when the engine runs with
// more than one worker.
type Oracle interface {
	// Raycast returns the nearest solid collider hit within maxDistance.
	Raycast(origin, dir spatial.Vec3, maxDistance float64, mask LayerMask) (Hit, bool, error)
	// CheckSphere reports whether any solid collider overlaps the sphere.
	CheckSphere(center spatial.Vec3, radius float64, mask LayerMask) (bool, error)
	// ClosestPoint returns the point on c closest to p; p itself when inside.
	ClosestPoint(c Collider, p spatial.Vec3) (spatial.Vec3, error)
	// ResolveObject finds an object by id, then by name.
	ResolveObject(ref string) (Object, error)
}

// Linecast reports whether anything blocks the segment from -> to.
func Linecast(o Oracle, from, to spatial.Vec3, mask LayerMask) (bool, error) {
	d := to.Sub(from)
	length := d.Len()
	if length == 0 {
		return false, nil
	}
	_, hit, err := o.Raycast(from, d.Scale(1/length), length, mask)
	return hit, err
}

// Unavailable wraps a host failure so callers can tell it apart from a miss.
func Unavailable(op string, err error) error {
	if errors.Is(err, eqserr.ErrOracleUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, eqserr.ErrOracleUnavailable, err)
}

// None is the oracle of an empty world: nothing is ever hit and no object resolves.
type None struct{}

func (None) Raycast(spatial.Vec3, spatial.Vec3, float64, LayerMask) (Hit, bool, error) {
	return Hit{}, false, nil
}

func (None) CheckSphere(spatial.Vec3, float64, LayerMask) (bool, error) { return false, nil }

func (None) ClosestPoint(c Collider, p spatial.Vec3) (spatial.Vec3, error) {
	return c.Bounds.ClosestPoint(p), nil
}

func (None) ResolveObject(ref string) (Object, error) {
	return Object{}, fmt.Errorf("%q: %w", ref, eqserr.ErrObjectNotFound)
}
