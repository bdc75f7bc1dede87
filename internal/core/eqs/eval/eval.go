// Package eval carries the per-query state shared by conditions and criteria.
package eval

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// Scope binds a query to the environment it runs against. Factories read
// parameters through it so reference points and objects resolve the same way
// everywhere.
type Scope struct {
	Query *query.Query
	Env   *world.Environment
	Log   log.Log
	Tally *Tally
}

// NewScope returns a scope with a fresh tally. A nil logger becomes a no-op.
func NewScope(q *query.Query, env *world.Environment, logger log.Log) *Scope {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Scope{Query: q, Env: env, Log: logger, Tally: &Tally{}}
}

func (s *Scope) Grid() *grid.Grid { return s.Env.Grid }

func (s *Scope) Oracle() oracle.Oracle {
	if s.Env == nil || s.Env.Oracle == nil {
		return oracle.None{}
	}
	return s.Env.Oracle
}

// Point reads the first present key as a vector, resolving reference names.
func (s *Scope) Point(p params.Params, keys ...string) (spatial.Vec3, bool, error) {
	for _, k := range keys {
		pt, ok, err := p.Point(k)
		if err != nil {
			return spatial.Vec3{}, false, err
		}
		if !ok {
			continue
		}
		v, err := s.Query.ResolvePoint(pt)
		if err != nil {
			return spatial.Vec3{}, false, eqserr.Field(k, err)
		}
		return v, true, nil
	}
	return spatial.Vec3{}, false, nil
}

// RequirePoint is Point with a configuration error when every key is absent.
func (s *Scope) RequirePoint(p params.Params, keys ...string) (spatial.Vec3, error) {
	v, ok, err := s.Point(p, keys...)
	if err != nil {
		return spatial.Vec3{}, err
	}
	if !ok {
		return spatial.Vec3{}, eqserr.Configf("missing required parameter %q", keys[0])
	}
	return v, nil
}

// Points reads a list of vectors, resolving reference names.
func (s *Scope) Points(p params.Params, key string) ([]spatial.Vec3, error) {
	pts, err := p.PointList(key)
	if err != nil {
		return nil, err
	}
	out := make([]spatial.Vec3, len(pts))
	for i, pt := range pts {
		v, err := s.Query.ResolvePoint(pt)
		if err != nil {
			return nil, eqserr.Field(fmt.Sprintf("%s[%d]", key, i), err)
		}
		out[i] = v
	}
	return out, nil
}

// LayerMask reads an optional collision layer mask; absent or negative means
// every layer.
func LayerMask(p params.Params) (oracle.LayerMask, error) {
	v, ok, err := p.OptFloat("layerMask")
	if err != nil {
		return 0, err
	}
	if !ok || v < 0 {
		return oracle.AllLayers, nil
	}
	return oracle.LayerMask(uint32(v)), nil
}

// ResolveObject looks an object up through the oracle. found is false when the
// oracle reports the object as missing; any other failure is returned.
func (s *Scope) ResolveObject(ref string) (obj oracle.Object, found bool, err error) {
	obj, err = s.Oracle().ResolveObject(ref)
	switch {
	case err == nil:
		return obj, true, nil
	case errors.Is(err, eqserr.ErrObjectNotFound):
		return oracle.Object{}, false, nil
	default:
		return oracle.Object{}, false, oracle.Unavailable("resolve object", err)
	}
}

// Tally counts oracle failures during one query and keeps the first.
type Tally struct {
	n     atomic.Int64
	once  sync.Once
	first error
}

func (t *Tally) Record(err error) {
	if err == nil {
		return
	}
	t.n.Add(1)
	t.once.Do(func() { t.first = err })
}

func (t *Tally) Count() int { return int(t.n.Load()) }

// First is only meaningful after evaluation has finished.
func (t *Tally) First() error {
	if t.Count() == 0 {
		return nil
	}
	return t.first
}
