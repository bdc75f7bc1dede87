// Package query models EQS queries and decodes them from request payloads.
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// Query is a decoded, validated request.
type Query struct {
	ID                 string           `json:"queryId" yaml:"query_id"`
	TargetObjectType   string           `json:"targetObjectType,omitempty" yaml:"target_object_type,omitempty"`
	DesiredResultCount int              `json:"desiredResultCount" yaml:"desired_result_count"`
	ReferencePoints    []ReferencePoint `json:"referencePoints,omitempty" yaml:"reference_points,omitempty"`
	AreaOfInterest     *AreaOfInterest  `json:"areaOfInterest,omitempty" yaml:"area_of_interest,omitempty"`
	Conditions         []Condition      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Criteria           []Criterion      `json:"scoringCriteria,omitempty" yaml:"scoring_criteria,omitempty"`
}

type ReferencePoint struct {
	Name     string       `json:"name" yaml:"name"`
	Position spatial.Vec3 `json:"position" yaml:"position"`
}

// Condition is a hard constraint. Weight is carried but not used by filtering.
type Condition struct {
	Type       string        `json:"type" yaml:"type"`
	Parameters params.Params `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Weight     float64       `json:"weight" yaml:"weight"`
	Invert     bool          `json:"invert" yaml:"invert"`
}

// Criterion is a soft scoring rule. NormalizationMethod is informational.
type Criterion struct {
	Type                string        `json:"type" yaml:"type"`
	Parameters          params.Params `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Weight              float64       `json:"weight" yaml:"weight"`
	NormalizationMethod string        `json:"normalizationMethod,omitempty" yaml:"normalization_method,omitempty"`
}

// Validate checks the query shape. It does not compile condition parameters;
// the filter and scoring registries do that.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return eqserr.Configf("queryId is required")
	}
	if q.DesiredResultCount <= 0 {
		return eqserr.Configf("desiredResultCount must be positive, got %d", q.DesiredResultCount)
	}
	seen := make(map[string]struct{}, len(q.ReferencePoints))
	for i, rp := range q.ReferencePoints {
		name := strings.ToLower(strings.TrimSpace(rp.Name))
		if name == "" {
			return eqserr.Configf("referencePoints[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return eqserr.Configf("referencePoints[%d]: duplicate name %q", i, rp.Name)
		}
		if !rp.Position.IsFinite() {
			return eqserr.Configf("referencePoints[%d]: position must be finite", i)
		}
		seen[name] = struct{}{}
	}
	if q.AreaOfInterest != nil {
		if err := q.AreaOfInterest.Validate(); err != nil {
			return err
		}
	}
	for i, c := range q.Conditions {
		if strings.TrimSpace(c.Type) == "" {
			return eqserr.Configf("conditions[%d]: type is required", i)
		}
	}
	for i, c := range q.Criteria {
		if strings.TrimSpace(c.Type) == "" {
			return eqserr.Configf("scoringCriteria[%d]: type is required", i)
		}
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
			return eqserr.Configf("scoringCriteria[%d]: weight must be finite", i)
		}
		if c.Weight < 0 {
			return eqserr.Configf("scoringCriteria[%d]: weight must not be negative, got %g", i, c.Weight)
		}
	}
	return nil
}

// Reference returns the named reference point position, case-insensitively.
func (q *Query) Reference(name string) (spatial.Vec3, bool) {
	for _, rp := range q.ReferencePoints {
		if strings.EqualFold(rp.Name, name) {
			return rp.Position, true
		}
	}
	return spatial.Vec3{}, false
}

// ResolvePoint turns a literal or named point into a position.
func (q *Query) ResolvePoint(pt params.Point) (spatial.Vec3, error) {
	if !pt.IsRef() {
		return pt.Vec, nil
	}
	v, ok := q.Reference(pt.Ref)
	if !ok {
		return spatial.Vec3{}, eqserr.Configf("unknown reference point %q", pt.Ref)
	}
	return v, nil
}

// AreaShape is the kind of area of interest.
type AreaShape string

const (
	AreaSphere AreaShape = "sphere"
	AreaBox    AreaShape = "box"
)

// AreaOfInterest restricts candidates to a sphere or a box.
type AreaOfInterest struct {
	Type   AreaShape    `json:"type" yaml:"type"`
	Center spatial.Vec3 `json:"center" yaml:"center"`
	Radius float64      `json:"radius,omitempty" yaml:"radius,omitempty"`
	Size   spatial.Vec3 `json:"size,omitempty" yaml:"size,omitempty"`
}

func (a *AreaOfInterest) Validate() error {
	a.Type = AreaShape(strings.ToLower(string(a.Type)))
	switch a.Type {
	case AreaSphere:
		if !(a.Radius >= 0) || math.IsInf(a.Radius, 0) {
			return eqserr.Configf("areaOfInterest: sphere radius must be a non-negative number")
		}
	case AreaBox:
		if a.Size.X < 0 || a.Size.Y < 0 || a.Size.Z < 0 || !a.Size.IsFinite() {
			return eqserr.Configf("areaOfInterest: box size must be non-negative")
		}
	default:
		return eqserr.Configf("areaOfInterest: unknown type %q (want sphere or box)", a.Type)
	}
	if !a.Center.IsFinite() {
		return eqserr.Configf("areaOfInterest: center must be finite")
	}
	return nil
}

// Contains reports whether p lies in the area. A nil area contains everything.
func (a *AreaOfInterest) Contains(p spatial.Vec3) bool {
	if a == nil {
		return true
	}
	switch a.Type {
	case AreaSphere:
		return spatial.Dist(a.Center, p) <= a.Radius
	case AreaBox:
		return spatial.BoxAt(a.Center, a.Size).Contains(p)
	default:
		return true
	}
}

func (a *AreaOfInterest) String() string {
	if a == nil {
		return "none"
	}
	if a.Type == AreaSphere {
		return fmt.Sprintf("sphere(%s, r=%g)", a.Center, a.Radius)
	}
	return fmt.Sprintf("box(%s, size=%s)", a.Center, a.Size)
}
