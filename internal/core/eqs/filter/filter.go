// Package filter reduces grid cells to the candidates that satisfy every
// condition of a query.
package filter

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/pkg/concurrent"
	"github.com/zeusync/eqs/pkg/generic"
)

// Condition is a compiled hard constraint. An error means the oracle could not
// answer; the cell is then rejected regardless of inversion.
type Condition interface {
	Check(cell *grid.Cell) (bool, error)
}

// CheckFunc adapts a function to Condition.
type CheckFunc func(cell *grid.Cell) (bool, error)

func (f CheckFunc) Check(cell *grid.Cell) (bool, error) { return f(cell) }

// Factory compiles condition parameters against a scope.
type Factory func(sc *eval.Scope, p params.Params) (Condition, error)

// Registry maps lower-cased condition types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in condition.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("DistanceTo", NewDistanceTo)
	r.Register("Clearance", NewClearance)
	r.Register("CustomProperty", NewCustomProperty)
	r.Register("VisibilityOf", NewVisibilityOf)
	r.Register("ObjectProximity", NewObjectProximity)
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

// Types lists registered type keys in sorted order.
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

type compiled struct {
	typ    string
	invert bool
	cond   Condition
}

// Filter is a compiled list of conditions plus the area of interest.
type Filter struct {
	area  *query.AreaOfInterest
	conds []compiled
	tally *eval.Tally
}

// Stats describes one filter pass.
type Stats struct {
	Evaluated int
	Passed    int
}

var alwaysPass = CheckFunc(func(*grid.Cell) (bool, error) { return true, nil })

// Compile builds the query's conditions. Unknown types pass every cell and are
// logged; malformed parameters are configuration errors.
func Compile(reg *Registry, sc *eval.Scope) (*Filter, error) {
	f := &Filter{area: sc.Query.AreaOfInterest, tally: sc.Tally}
	for i, c := range sc.Query.Conditions {
		factory, ok := reg.Lookup(c.Type)
		if !ok {
			sc.Log.Warn("unknown condition type, treating as pass",
				log.String("query_id", sc.Query.ID),
				log.String("type", c.Type),
			)
			f.conds = append(f.conds, compiled{typ: c.Type, invert: c.Invert, cond: alwaysPass})
			continue
		}
		cond, err := factory(sc, c.Parameters)
		if err != nil {
			return nil, eqserr.Field(fmt.Sprintf("conditions[%d] (%s)", i, c.Type), err)
		}
		f.conds = append(f.conds, compiled{typ: c.Type, invert: c.Invert, cond: cond})
	}
	return f, nil
}

// Len is the number of compiled conditions.
func (f *Filter) Len() int { return len(f.conds) }

// Passes applies the area of interest and every condition, stopping at the
// first failure. Oracle failures are tallied and reject the cell.
func (f *Filter) Passes(cell *grid.Cell) bool {
	if !f.area.Contains(cell.WorldPosition) {
		return false
	}
	for _, c := range f.conds {
		ok, err := c.cond.Check(cell)
		if err != nil {
			f.tally.Record(fmt.Errorf("%s: %w", c.typ, err))
			return false
		}
		if ok == c.invert {
			return false
		}
	}
	return true
}

var masks = generic.NewMaskPool()

// Apply returns the passing cells in grid order.
func (f *Filter) Apply(g *grid.Grid, workers int) ([]*grid.Cell, Stats) {
	mask := masks.Get(g.Len())
	defer masks.Put(mask)
	idx, _ := concurrent.ParallelSelect(g.Len(), workers, mask.Bits, func(i int) (bool, error) {
		return f.Passes(g.Cell(i)), nil
	})
	out := make([]*grid.Cell, len(idx))
	for j, i := range idx {
		out[j] = g.Cell(i)
	}
	return out, Stats{Evaluated: g.Len(), Passed: len(out)}
}
