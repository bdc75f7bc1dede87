package scoring

import (
	"math"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
)

// Curve maps a normalized distance in [0,1] onto a score.
type Curve uint8

const (
	Linear Curve = iota
	Exponential
	Logarithmic
	Smoothstep
	Inverse
	Threshold
)

var curveNames = map[string]Curve{
	"":            Linear,
	"linear":      Linear,
	"exponential": Exponential,
	"exp":         Exponential,
	"logarithmic": Logarithmic,
	"log":         Logarithmic,
	"smoothstep":  Smoothstep,
	"smooth":      Smoothstep,
	"inverse":     Inverse,
	"threshold":   Threshold,
	"step":        Threshold,
}

func ParseCurve(s string) (Curve, error) {
	c, ok := curveNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return Linear, eqserr.Configf("unknown scoring curve %q", s)
	}
	return c, nil
}

func (c Curve) String() string {
	switch c {
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "logarithmic"
	case Smoothstep:
		return "smoothstep"
	case Inverse:
		return "inverse"
	case Threshold:
		return "threshold"
	default:
		return "linear"
	}
}

// rise is the farther-is-better shape of c at normalized distance n.
// Threshold is handled by the caller because it needs the raw distance.
func (c Curve) rise(n, k float64) float64 {
	n = clamp01(n)
	switch c {
	case Exponential:
		return math.Pow(n, k)
	case Logarithmic:
		return math.Log(1+9*n) / math.Ln10
	case Smoothstep:
		return smoothstep(n)
	case Inverse:
		return 1 - 1/(1+n*n)
	default:
		return n
	}
}

// fall is the closer-is-better shape of c at normalized distance n.
func (c Curve) fall(n, k float64) float64 {
	n = clamp01(n)
	switch c {
	case Exponential:
		return math.Pow(1-n, k)
	case Logarithmic:
		return 1 - math.Log(1+9*n)/math.Ln10
	case Smoothstep:
		return 1 - smoothstep(n)
	case Inverse:
		return 1 / (1 + n*n)
	default:
		return 1 - n
	}
}

func smoothstep(x float64) float64 {
	x = clamp01(x)
	return x * x * (3 - 2*x)
}

// clamp01 also maps NaN to 0.
func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
