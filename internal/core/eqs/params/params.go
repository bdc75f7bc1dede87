package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// Params is a parameter map. Lookups are exact first, then case-insensitive.
type Params map[string]Value

// Point is a vector parameter that is either literal or names a reference point.
type Point struct {
	Vec spatial.Vec3
	Ref string
}

func (p Point) IsRef() bool { return p.Ref != "" }

func (p Params) Lookup(key string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	if v, ok := p[key]; ok && !v.IsNull() {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) && !v.IsNull() {
			return v, true
		}
	}
	return Value{}, false
}

// First returns the first key present among keys.
func (p Params) First(keys ...string) (string, Value, bool) {
	for _, k := range keys {
		if v, ok := p.Lookup(k); ok {
			return k, v, true
		}
	}
	return "", Value{}, false
}

func (p Params) Has(key string) bool {
	_, ok := p.Lookup(key)
	return ok
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return def, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, eqserr.Field(key, err)
	}
	return f, nil
}

// OptFloat returns ok=false when the key is absent.
func (p Params) OptFloat(key string) (float64, bool, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return 0, false, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, false, eqserr.Field(key, err)
	}
	return f, true, nil
}

func (p Params) Int(key string, def int) (int, error) {
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, eqserr.Field(key, fmt.Errorf("%g is not an integer", f))
	}
	return int(f), nil
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return def, nil
	}
	if b, ok := v.AsBool(); ok {
		return b, nil
	}
	if s, ok := v.AsString(); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err == nil {
			return b, nil
		}
	}
	return false, eqserr.Field(key, fmt.Errorf("expected bool, got %s", v.Kind()))
}

func (p Params) String(key, def string) (string, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return def, nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", eqserr.Field(key, fmt.Errorf("expected string, got %s", v.Kind()))
	}
	return s, nil
}

func (p Params) FloatList(key string) ([]float64, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return nil, nil
	}
	arr, ok := v.AsArray()
	if !ok {
		return nil, eqserr.Field(key, fmt.Errorf("expected array, got %s", v.Kind()))
	}
	out := make([]float64, len(arr))
	for i, e := range arr {
		f, err := ToFloat(e)
		if err != nil {
			return nil, eqserr.Field(fmt.Sprintf("%s[%d]", key, i), err)
		}
		out[i] = f
	}
	return out, nil
}

// Point reads a vector parameter. ok is false when the key is absent.
func (p Params) Point(key string) (Point, bool, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return Point{}, false, nil
	}
	pt, err := ToPoint(v)
	if err != nil {
		return Point{}, false, eqserr.Field(key, err)
	}
	return pt, true, nil
}

func (p Params) PointList(key string) ([]Point, error) {
	v, ok := p.Lookup(key)
	if !ok {
		return nil, nil
	}
	arr, ok := v.AsArray()
	if !ok {
		return nil, eqserr.Field(key, fmt.Errorf("expected array of points, got %s", v.Kind()))
	}
	out := make([]Point, len(arr))
	for i, e := range arr {
		pt, err := ToPoint(e)
		if err != nil {
			return nil, eqserr.Field(fmt.Sprintf("%s[%d]", key, i), err)
		}
		out[i] = pt
	}
	return out, nil
}

func ToFloat(v Value) (float64, error) {
	if f, ok := v.AsNumber(); ok {
		return f, nil
	}
	if s, ok := v.AsString(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("expected number, got %s", v.Kind())
}

// ToVec3 accepts [x,y,z] or {x,y,z}.
func ToVec3(v Value) (spatial.Vec3, error) {
	if arr, ok := v.AsArray(); ok {
		if len(arr) != 3 {
			return spatial.Vec3{}, fmt.Errorf("vector needs 3 components, got %d", len(arr))
		}
		var c [3]float64
		for i, e := range arr {
			f, err := ToFloat(e)
			if err != nil {
				return spatial.Vec3{}, fmt.Errorf("component %d: %w", i, err)
			}
			c[i] = f
		}
		return spatial.V(c[0], c[1], c[2]), nil
	}
	if obj, ok := v.AsObject(); ok {
		var c [3]float64
		for i, k := range []string{"x", "y", "z"} {
			e, ok := obj.Lookup(k)
			if !ok {
				return spatial.Vec3{}, fmt.Errorf("vector object missing %q", k)
			}
			f, err := ToFloat(e)
			if err != nil {
				return spatial.Vec3{}, fmt.Errorf("%s: %w", k, err)
			}
			c[i] = f
		}
		return spatial.V(c[0], c[1], c[2]), nil
	}
	return spatial.Vec3{}, fmt.Errorf("expected vector, got %s", v.Kind())
}

// ToPoint accepts a literal vector or a non-empty reference name.
func ToPoint(v Value) (Point, error) {
	if s, ok := v.AsString(); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return Point{}, fmt.Errorf("empty point reference")
		}
		return Point{Ref: s}, nil
	}
	vec, err := ToVec3(v)
	if err != nil {
		return Point{}, err
	}
	return Point{Vec: vec}, nil
}
