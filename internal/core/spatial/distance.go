package spatial

import (
	"fmt"
	"math"
	"strings"
)

// DistanceMode selects the metric used to compare two points.
type DistanceMode uint8

const (
	Euclidean DistanceMode = iota
	Manhattan
	Chebyshev
	Horizontal
	Vertical
	SquaredEuclidean
)

var distanceModeNames = map[string]DistanceMode{
	"euclidean":         Euclidean,
	"manhattan":         Manhattan,
	"chebyshev":         Chebyshev,
	"horizontal":        Horizontal,
	"vertical":          Vertical,
	"squared":           SquaredEuclidean,
	"squaredeuclidean":  SquaredEuclidean,
	"squared_euclidean": SquaredEuclidean,
}

// ParseDistanceMode is case-insensitive. The empty string means Euclidean.
func ParseDistanceMode(s string) (DistanceMode, error) {
	if s == "" {
		return Euclidean, nil
	}
	m, ok := distanceModeNames[strings.ToLower(s)]
	if !ok {
		return Euclidean, fmt.Errorf("unknown distance mode %q", s)
	}
	return m, nil
}

func (m DistanceMode) String() string {
	switch m {
	case Manhattan:
		return "manhattan"
	case Chebyshev:
		return "chebyshev"
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	case SquaredEuclidean:
		return "squared"
	default:
		return "euclidean"
	}
}

// Distance measures a to b under mode.
func Distance(a, b Vec3, mode DistanceMode) float64 {
	d := b.Sub(a)
	switch mode {
	case Manhattan:
		return math.Abs(d.X) + math.Abs(d.Y) + math.Abs(d.Z)
	case Chebyshev:
		return math.Max(math.Abs(d.X), math.Max(math.Abs(d.Y), math.Abs(d.Z)))
	case Horizontal:
		return math.Hypot(d.X, d.Z)
	case Vertical:
		return math.Abs(d.Y)
	case SquaredEuclidean:
		return d.LenSq()
	default:
		return d.Len()
	}
}

// Dist is the Euclidean distance.
func Dist(a, b Vec3) float64 { return b.Sub(a).Len() }
