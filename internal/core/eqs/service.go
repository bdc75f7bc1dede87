// Package eqs is the Environmental Query System service: it owns the current
// environment snapshot and runs queries against it.
package eqs

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/internal/core/spatial"
)

// InitRequest selects what goes into the environment snapshot.
type InitRequest struct {
	SceneID                 string         `json:"sceneId,omitempty"`
	IncludeStaticGeometry   bool           `json:"includeStaticGeometry"`
	IncludeDynamicObjects   bool           `json:"includeDynamicObjects"`
	DynamicObjectTagsFilter []string       `json:"dynamicObjectTagsFilter,omitempty"`
	GridCellSizeOverride    *float64       `json:"gridCellSizeOverride,omitempty"`
	GridDimensionsOverride  *spatial.IVec3 `json:"gridDimensionsOverride,omitempty"`
	ForceReinitialize       bool           `json:"forceReinitialize"`
}

// DefaultInitRequest includes everything.
func DefaultInitRequest() InitRequest {
	return InitRequest{IncludeStaticGeometry: true, IncludeDynamicObjects: true}
}

// EnvironmentSummary describes the environment after initialization.
type EnvironmentSummary struct {
	Hash            string        `json:"hash"`
	SceneID         string        `json:"sceneId"`
	CellSize        float64       `json:"gridCellSize"`
	Dimensions      spatial.IVec3 `json:"gridDimensions"`
	Origin          spatial.Vec3  `json:"gridOrigin"`
	TotalCells      int           `json:"totalCells"`
	StaticObjects   int           `json:"staticObjectCount"`
	DynamicObjects  int           `json:"dynamicObjectCount"`
	ExecutionTimeMS float64       `json:"executionTimeMs"`
	FromCache       bool          `json:"fromCache"`
	InitializedAt   time.Time     `json:"initializedAt"`
}

type Options struct {
	DefaultCellSize float64
	BoundsMargin    float64
	MaxCells        int
	// DefaultBounds is used for scenes without geometry. Zero means world.DefaultBounds.
	DefaultBounds spatial.AABB
	Workers       int
}

func DefaultOptions() Options {
	return Options{DefaultCellSize: 1, Workers: 1}
}

// Service serializes initialization (writer) against queries (readers).
type Service struct {
	src  world.SceneSource
	opts Options
	co   *coordinator.Coordinator
	bus  bus.EventBus
	log  log.Log

	mu  sync.RWMutex
	env *world.Environment
}

// NewService wires a service. The bus may be nil.
func NewService(src world.SceneSource, co *coordinator.Coordinator, b bus.EventBus, opts Options, logger log.Log) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	if !(opts.DefaultCellSize > 0) {
		opts.DefaultCellSize = 1
	}
	if co == nil {
		co = coordinator.New(coordinator.Options{Workers: opts.Workers}, logger)
	}
	return &Service{
		src:  src,
		opts: opts,
		co:   co,
		bus:  b,
		log:  logger.With(log.String("component", "eqs")),
	}
}

func (s *Service) config(req InitRequest) (world.Config, error) {
	cfg := world.Config{
		SceneID:               strings.TrimSpace(req.SceneID),
		IncludeStaticGeometry: req.IncludeStaticGeometry,
		IncludeDynamicObjects: req.IncludeDynamicObjects,
		DynamicObjectTags:     req.DynamicObjectTagsFilter,
		CellSize:              s.opts.DefaultCellSize,
		BoundsMargin:          s.opts.BoundsMargin,
	}
	if req.GridCellSizeOverride != nil {
		cs := *req.GridCellSizeOverride
		if !(cs > 0) || math.IsInf(cs, 0) {
			return cfg, eqserr.Configf("gridCellSizeOverride must be positive, got %g", cs)
		}
		cfg.CellSize = cs
	}
	if d := req.GridDimensionsOverride; d != nil {
		if d.X < 1 || d.Y < 1 || d.Z < 1 {
			return cfg, eqserr.Configf("gridDimensionsOverride must be at least 1 per axis, got %s", d)
		}
		dims := *d
		cfg.Dimensions = &dims
	}
	return cfg, nil
}

// InitializeEnvironment snapshots the scene and builds a fresh grid. An
// identical request reuses the current environment unless ForceReinitialize
// is set. Any failure leaves the service uninitialized.
func (s *Service) InitializeEnvironment(ctx context.Context, req InitRequest) (EnvironmentSummary, error) {
	start := time.Now()
	cfg, err := s.config(req)
	if err != nil {
		return EnvironmentSummary{}, err
	}

	s.mu.Lock()
	sum, ev, err := s.initLocked(ctx, cfg, req.ForceReinitialize, start)
	s.mu.Unlock()

	s.publish(ev)
	return sum, err
}

func (s *Service) initLocked(ctx context.Context, cfg world.Config, force bool, start time.Time) (EnvironmentSummary, event, error) {
	if !force && s.env != nil && s.env.Hash == cfg.Hash() && s.env.Config.Equal(cfg) {
		sum := summarize(s.env, start, true)
		s.log.Info("environment reused", log.String("hash", sum.Hash), log.String("scene_id", sum.SceneID))
		return sum, event{EventEnvironmentInitialized, sum, map[string]any{"fromCache": true}}, nil
	}

	// The previous snapshot is cleared before the new one is built.
	if s.env != nil {
		s.env.Release()
		s.env = nil
	}

	env, err := world.Build(ctx, s.src, cfg, world.BuildOptions{
		DefaultBounds: s.opts.DefaultBounds,
		MaxCells:      s.opts.MaxCells,
	})
	if err != nil {
		s.log.Error("environment initialization failed", log.String("scene_id", cfg.SceneID), log.Error(err))
		ev := s.resetLocked("initialization failed", err)
		return EnvironmentSummary{}, ev, fmt.Errorf("initialize environment: %w", err)
	}
	s.env = env

	sum := summarize(env, start, false)
	s.log.Info("environment initialized",
		log.String("hash", sum.Hash),
		log.String("scene_id", sum.SceneID),
		log.Stringer("dimensions", sum.Dimensions),
		log.Int("cells", sum.TotalCells),
		log.Int("static", sum.StaticObjects),
		log.Int("dynamic", sum.DynamicObjects),
		log.Duration("elapsed", env.BuildTime),
	)
	return sum, event{EventEnvironmentInitialized, sum, map[string]any{"fromCache": false}}, nil
}

func summarize(env *world.Environment, start time.Time, cached bool) EnvironmentSummary {
	g := env.Grid
	return EnvironmentSummary{
		Hash:            fmt.Sprintf("%016x", env.Hash),
		SceneID:         env.SceneID,
		CellSize:        g.CellSize(),
		Dimensions:      g.Dimensions(),
		Origin:          g.Origin(),
		TotalCells:      g.Len(),
		StaticObjects:   len(env.Static),
		DynamicObjects:  len(env.Dynamic),
		ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		FromCache:       cached,
		InitializedAt:   env.CreatedAt,
	}
}

// PerformQuery decodes a request and runs it. Configuration errors are
// returned; every other outcome is a result.
func (s *Service) PerformQuery(ctx context.Context, req query.Request) (*coordinator.QueryResult, error) {
	q, err := req.Decode()
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, q)
}

// Run executes an already decoded query. A query runs to completion once started.
func (s *Service) Run(ctx context.Context, q *query.Query) (*coordinator.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	res, err := s.co.Run(q, s.env)
	s.mu.RUnlock()
	if err != nil {
		s.log.Warn("query rejected", log.String("query_id", q.ID), log.Error(err))
		return nil, err
	}
	s.publish(event{EventQueryCompleted, res, map[string]any{"status": string(res.Status), "queryId": res.QueryID}})
	return res, nil
}

// Environment returns the current summary, if initialized.
func (s *Service) Environment() (EnvironmentSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.env == nil {
		return EnvironmentSummary{}, false
	}
	sum := summarize(s.env, s.env.CreatedAt, true)
	sum.ExecutionTimeMS = float64(s.env.BuildTime.Microseconds()) / 1000
	return sum, true
}

// CachedResult returns the last result stored under a query id.
func (s *Service) CachedResult(id string) (*coordinator.QueryResult, bool) {
	return s.co.Cached(id)
}

// Reset discards the environment and the result cache.
func (s *Service) Reset() {
	s.mu.Lock()
	ev := s.resetLocked("requested", nil)
	s.mu.Unlock()
	s.publish(ev)
}

func (s *Service) resetLocked(reason string, cause error) event {
	if s.env != nil {
		s.env.Release()
		s.env = nil
	}
	s.co.ClearCache()
	re := ResetEvent{Reason: reason}
	if cause != nil {
		re.Error = cause.Error()
	}
	return event{typ: EventEnvironmentReset, data: re}
}
