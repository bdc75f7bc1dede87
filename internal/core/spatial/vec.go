package spatial

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Vec3 is a world-space position or direction.
// It shares its layout with gonum's r3.Vec so the gonum helpers apply directly.
type Vec3 r3.Vec

// Common directions.
var (
	Zero    = Vec3{}
	Up      = Vec3{Y: 1}
	Down    = Vec3{Y: -1}
	Forward = Vec3{Z: 1}
	Right   = Vec3{X: 1}
)

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) r3() r3.Vec { return r3.Vec(v) }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3(r3.Add(v.r3(), o.r3())) }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3(r3.Sub(v.r3(), o.r3())) }

func (v Vec3) Scale(f float64) Vec3 { return Vec3(r3.Scale(f, v.r3())) }

func (v Vec3) Dot(o Vec3) float64 { return r3.Dot(v.r3(), o.r3()) }

func (v Vec3) Len() float64 { return r3.Norm(v.r3()) }

func (v Vec3) LenSq() float64 { return r3.Norm2(v.r3()) }

// Normalize returns the unit vector in the direction of v, or Zero when v has no length.
func (v Vec3) Normalize() Vec3 {
	if v.LenSq() == 0 {
		return Zero
	}
	return Vec3(r3.Unit(v.r3()))
}

// Horizontal drops the Y component.
func (v Vec3) Horizontal() Vec3 { return Vec3{X: v.X, Z: v.Z} }

// AngleTo returns the angle between v and o in degrees.
func (v Vec3) AngleTo(o Vec3) float64 {
	if v.LenSq() == 0 || o.LenSq() == 0 {
		return 0
	}
	c := v.Dot(o) / (v.Len() * o.Len())
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

func (v Vec3) String() string { return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z) }

func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{v.X, v.Y, v.Z})
}

// UnmarshalJSON accepts either [x,y,z] or {"x":..,"y":..,"z":..}.
func (v *Vec3) UnmarshalJSON(b []byte) error {
	var arr []float64
	if err := json.Unmarshal(b, &arr); err == nil {
		if len(arr) != 3 {
			return fmt.Errorf("vector needs 3 components, got %d", len(arr))
		}
		*v = Vec3{X: arr[0], Y: arr[1], Z: arr[2]}
		return nil
	}
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		Z *float64 `json:"z"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("vector must be [x,y,z] or {x,y,z}: %w", err)
	}
	if obj.X == nil || obj.Y == nil || obj.Z == nil {
		return fmt.Errorf("vector object requires x, y and z")
	}
	*v = Vec3{X: *obj.X, Y: *obj.Y, Z: *obj.Z}
	return nil
}

// UnmarshalYAML accepts [x, y, z] or a {x, y, z} mapping.
func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var arr []float64
		if err := node.Decode(&arr); err != nil {
			return err
		}
		if len(arr) != 3 {
			return fmt.Errorf("line %d: vector needs 3 components, got %d", node.Line, len(arr))
		}
		*v = Vec3{X: arr[0], Y: arr[1], Z: arr[2]}
		return nil
	}
	var obj struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	}
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("line %d: vector must be [x, y, z] or {x, y, z}: %w", node.Line, err)
	}
	*v = Vec3{X: obj.X, Y: obj.Y, Z: obj.Z}
	return nil
}

// HorizontalFan returns eight unit directions in the xz-plane, starting at +Z
// and stepping 45 degrees towards +X.
func HorizontalFan() []Vec3 {
	out := make([]Vec3, 8)
	for i := range out {
		a := float64(i) * math.Pi / 4
		out[i] = Vec3{X: math.Sin(a), Z: math.Cos(a)}
	}
	return out
}

// IVec3 addresses a grid cell.
type IVec3 struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func I(x, y, z int) IVec3 { return IVec3{X: x, Y: y, Z: z} }

func (i IVec3) Add(o IVec3) IVec3 { return IVec3{X: i.X + o.X, Y: i.Y + o.Y, Z: i.Z + o.Z} }

func (i IVec3) Vec() Vec3 { return Vec3{X: float64(i.X), Y: float64(i.Y), Z: float64(i.Z)} }

// Product is the number of cells a box of these dimensions holds.
func (i IVec3) Product() int { return i.X * i.Y * i.Z }

func (i IVec3) String() string { return fmt.Sprintf("[%d, %d, %d]", i.X, i.Y, i.Z) }
