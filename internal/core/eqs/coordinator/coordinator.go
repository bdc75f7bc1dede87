// Package coordinator runs queries against an environment: filter, score,
// sort, truncate. It also owns the per-query result cache.
package coordinator

import (
	"slices"
	"sync"
	"time"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/filter"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/query"
	"github.com/zeusync/eqs/internal/core/eqs/scoring"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/observability/log"
	"github.com/zeusync/eqs/pkg/concurrent"
)

type Options struct {
	// Workers evaluates cells in parallel when > 1.
	Workers  int
	Filters  *filter.Registry
	Criteria *scoring.Registry
}

type Coordinator struct {
	opts Options
	log  log.Log

	mu    sync.RWMutex
	cache map[string]*QueryResult
}

// New returns a coordinator with the default registries unless overridden.
func New(opts Options, logger log.Log) *Coordinator {
	if opts.Filters == nil {
		opts.Filters = filter.DefaultRegistry()
	}
	if opts.Criteria == nil {
		opts.Criteria = scoring.DefaultRegistry()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{
		opts:  opts,
		log:   logger.With(log.String("component", "coordinator")),
		cache: make(map[string]*QueryResult),
	}
}

// Run executes q against env. Configuration errors are returned as errors and
// nothing is cached; they are detected even when env is not initialized. A
// missing environment or an empty candidate set produces a failure result,
// which is cached like any other.
func (c *Coordinator) Run(q *query.Query, env *world.Environment) (*QueryResult, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	res := &QueryResult{QueryID: q.ID, Status: StatusSuccess, Stage: StageIdle}
	logger := c.log.With(log.String("query_id", q.ID))

	ready := env != nil && env.Grid != nil && env.Grid.Len() > 0
	compileEnv, compileLog := env, logger
	if !ready {
		compileEnv, compileLog = world.Placeholder(), log.NewNop()
	}
	sc := eval.NewScope(q, compileEnv, compileLog)
	f, err := filter.Compile(c.opts.Filters, sc)
	if err != nil {
		return nil, err
	}
	engine, err := scoring.Compile(c.opts.Criteria, sc)
	if err != nil {
		return nil, err
	}

	if !ready {
		res.fail(eqserr.ErrEnvironmentNotInitialized).finish(start)
		c.store(res)
		logger.Warn("query rejected", log.Error(eqserr.ErrEnvironmentNotInitialized))
		return res, nil
	}

	res.advance(StageFiltering, logger)
	cells, fstats := f.Apply(env.Grid, c.opts.Workers)
	res.Stats.CellsEvaluated = fstats.Evaluated
	res.Stats.Candidates = fstats.Passed
	if len(cells) == 0 {
		res.Stats.OracleErrors = sc.Tally.Count()
		c.logOracle(logger, sc.Tally)
		res.fail(eqserr.ErrNoCandidates).finish(start)
		c.store(res)
		logger.Info("query finished without candidates",
			log.Int("cells_evaluated", fstats.Evaluated),
			log.Duration("elapsed", res.ExecutionTime),
		)
		return res, nil
	}

	res.advance(StageScoring, logger)
	ranked, _ := concurrent.ParallelMap(cells, c.opts.Workers, func(cell *grid.Cell) (LocationCandidate, error) {
		score, breakdown := engine.Score(cell)
		return LocationCandidate{
			Position:            cell.WorldPosition,
			Indices:             cell.Indices,
			Score:               score,
			Breakdown:           breakdown,
			AssociatedObjectIDs: slices.Clone(cell.DynamicOccupants),
		}, nil
	})

	res.advance(StageSorting, logger)
	slices.SortStableFunc(ranked, func(a, b LocationCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	k := min(q.DesiredResultCount, len(ranked))
	res.Ranked = ranked
	res.Results = ranked[:k]
	res.Stats.OracleErrors = sc.Tally.Count()
	c.logOracle(logger, sc.Tally)
	res.advance(StageDone, logger)
	res.finish(start)
	c.store(res)

	logger.Info("query finished",
		log.Int("cells_evaluated", fstats.Evaluated),
		log.Int("candidates", len(ranked)),
		log.Int("results", k),
		log.Float64("top_score", ranked[0].Score),
		log.Duration("elapsed", res.ExecutionTime),
	)
	return res, nil
}

func (c *Coordinator) logOracle(logger log.Log, t *eval.Tally) {
	if n := t.Count(); n > 0 {
		logger.Warn("spatial oracle failures during query",
			log.Int("count", n),
			log.Error(t.First()),
		)
	}
}

func (c *Coordinator) store(res *QueryResult) {
	c.mu.Lock()
	c.cache[res.QueryID] = res
	c.mu.Unlock()
}

// Cached returns the last result stored under id.
func (c *Coordinator) Cached(id string) (*QueryResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.cache[id]
	return res, ok
}

// CacheLen is the number of cached results.
func (c *Coordinator) CacheLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Coordinator) ClearCache() {
	c.mu.Lock()
	clear(c.cache)
	c.mu.Unlock()
}
