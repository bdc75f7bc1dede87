// Package scoring ranks candidate cells with weighted, normalized criteria.
package scoring

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/observability/log"
)

// UnknownScore is what an unregistered criterion type contributes.
const UnknownScore = 0.5

// Criterion scores one cell in [0,1]. Values outside are clamped. An error
// means the oracle could not answer and the criterion scores 0.
type Criterion interface {
	Score(cell *grid.Cell) (float64, error)
}

// ScoreFunc adapts a plain function to Criterion.
type ScoreFunc func(cell *grid.Cell) (float64, error)

func (f ScoreFunc) Score(cell *grid.Cell) (float64, error) { return f(cell) }

// Factory builds a criterion from its parameters. Errors are configuration
// errors and reject the whole query.
type Factory func(sc *eval.Scope, p params.Params) (Criterion, error)

// Registry maps lower-cased criterion types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in criterion.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ProximityTo", NewProximityTo)
	r.Register("FarthestFrom", NewFarthestFrom)
	r.Register("DensityOfObjects", NewDensityOfObjects)
	r.Register("HeightPreference", NewHeightPreference)
	r.Register("SlopeAnalysis", NewSlopeAnalysis)
	r.Register("CoverQuality", NewCoverQuality)
	r.Register("PathComplexity", NewPathComplexity)
	r.Register("MultiPoint", NewMultiPoint)
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	r.factories[strings.ToLower(name)] = factory
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	return f, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

var constant = ScoreFunc(func(*grid.Cell) (float64, error) { return UnknownScore, nil })

// Engine is a compiled list of weighted criteria.
type Engine struct {
	keys    []string
	types   []string
	weights []float64
	crits   []Criterion
	tally   *eval.Tally
}

// Compile builds the query's criteria. Breakdown keys are the criterion type;
// repeats of a type get "#2", "#3" suffixes.
func Compile(reg *Registry, sc *eval.Scope) (*Engine, error) {
	e := &Engine{tally: sc.Tally}
	seen := make(map[string]int, len(sc.Query.Criteria))
	for i, c := range sc.Query.Criteria {
		var crit Criterion = constant
		factory, ok := reg.Lookup(c.Type)
		if ok {
			var err error
			if crit, err = factory(sc, c.Parameters); err != nil {
				return nil, eqserr.Field(fmt.Sprintf("scoringCriteria[%d] (%s)", i, c.Type), err)
			}
		} else {
			sc.Log.Warn("unknown criterion type, scoring constant",
				log.String("query_id", sc.Query.ID),
				log.String("type", c.Type),
				log.Float64("score", UnknownScore),
			)
		}

		lower := strings.ToLower(c.Type)
		seen[lower]++
		key := c.Type
		if n := seen[lower]; n > 1 {
			key = fmt.Sprintf("%s#%d", c.Type, n)
		}
		e.keys = append(e.keys, key)
		e.types = append(e.types, c.Type)
		e.weights = append(e.weights, c.Weight)
		e.crits = append(e.crits, crit)
	}
	return e, nil
}

// Keys are the breakdown keys in criterion order.
func (e *Engine) Keys() []string { return slices.Clone(e.keys) }

// Len is the number of compiled criteria.
func (e *Engine) Len() int { return len(e.crits) }

// Score returns the weighted mean of all criteria and the per-criterion breakdown.
// With zero total weight the final score is 0.
func (e *Engine) Score(cell *grid.Cell) (float64, map[string]float64) {
	scores := make([]float64, len(e.crits))
	breakdown := make(map[string]float64, len(e.crits))
	for i, c := range e.crits {
		s, err := c.Score(cell)
		if err != nil {
			e.tally.Record(fmt.Errorf("%s: %w", e.types[i], err))
			s = 0
		}
		s = clamp01(s)
		scores[i] = s
		breakdown[e.keys[i]] = s
	}
	return Combine(scores, e.weights), breakdown
}

// Combine is Σ(s·w)/Σw clamped to [0,1], or 0 when the weights sum to 0. Nil
// weights give the plain mean.
func Combine(scores, weights []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	if weights == nil {
		return clamp01(stat.Mean(scores, nil))
	}
	if sum(weights) == 0 {
		return 0
	}
	return clamp01(stat.Mean(scores, weights))
}
