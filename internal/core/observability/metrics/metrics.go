// Package metrics exports engine activity as prometheus collectors. It is fed
// from the event bus, so the query path never touches prometheus directly.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeusync/eqs/internal/core/eqs"
	"github.com/zeusync/eqs/internal/core/eqs/coordinator"
	"github.com/zeusync/eqs/internal/core/events/bus"
)

// Metrics with bounded cardinality: labels carry status or event type, never ids.
type Metrics struct {
	queries        *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	candidates     prometheus.Histogram
	oracleErrors   prometheus.Counter
	initTotal      *prometheus.CounterVec
	resets         prometheus.Counter
	gridCells      prometheus.Gauge
	busEvents      *prometheus.CounterVec
	busErrors      prometheus.Counter
	handlerLatency prometheus.Histogram

	subs []bus.Subscription
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eqs_queries_total",
			Help: "Completed queries by status",
		}, []string{"status"}),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eqs_query_duration_seconds",
			Help:    "Wall time of a query from validation to sort",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		candidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eqs_query_candidates",
			Help:    "Cells that passed filtering per query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		oracleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "eqs_oracle_errors_total",
			Help: "Spatial oracle calls that failed during queries",
		}),
		initTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eqs_environment_initializations_total",
			Help: "Environment initializations by cache outcome",
		}, []string{"cache"}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Name: "eqs_environment_resets_total",
			Help: "Times the environment was discarded",
		}),
		gridCells: f.NewGauge(prometheus.GaugeOpts{
			Name: "eqs_grid_cells",
			Help: "Cells in the current grid, 0 when uninitialized",
		}),
		busEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eqs_bus_events_total",
			Help: "Events published on the internal bus",
		}, []string{"type"}),
		busErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "eqs_bus_handler_errors_total",
			Help: "Publishes where at least one handler failed",
		}),
		handlerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eqs_bus_delivery_seconds",
			Help:    "Time to deliver one event to all handlers",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Attach subscribes to service events and observes bus deliveries.
func (m *Metrics) Attach(b bus.EventBus) error {
	handlers := map[string]bus.EventHandler{
		eqs.EventQueryCompleted:         m.onQuery,
		eqs.EventEnvironmentInitialized: m.onInit,
		eqs.EventEnvironmentReset:       m.onReset,
	}
	for typ, h := range handlers {
		sub, err := b.Subscribe(typ, h)
		if err != nil {
			return errors.Join(err, m.Detach(b))
		}
		m.subs = append(m.subs, sub)
	}
	b.AddObserver(m)
	return nil
}

// Detach undoes Attach.
func (m *Metrics) Detach(b bus.EventBus) error {
	b.RemoveObserver(m)
	var err error
	for _, s := range m.subs {
		err = errors.Join(err, b.Unsubscribe(s))
	}
	m.subs = nil
	return err
}

func (m *Metrics) onQuery(e bus.Event) error {
	res, ok := e.Data().(*coordinator.QueryResult)
	if !ok {
		return nil
	}
	m.queries.WithLabelValues(string(res.Status)).Inc()
	m.queryDuration.Observe(res.ExecutionTime.Seconds())
	m.candidates.Observe(float64(res.Stats.Candidates))
	m.oracleErrors.Add(float64(res.Stats.OracleErrors))
	return nil
}

func (m *Metrics) onInit(e bus.Event) error {
	sum, ok := e.Data().(eqs.EnvironmentSummary)
	if !ok {
		return nil
	}
	outcome := "miss"
	if sum.FromCache {
		outcome = "hit"
	}
	m.initTotal.WithLabelValues(outcome).Inc()
	m.gridCells.Set(float64(sum.TotalCells))
	return nil
}

func (m *Metrics) onReset(bus.Event) error {
	m.resets.Inc()
	m.gridCells.Set(0)
	return nil
}

// OnPublish implements bus.EventBusObserver.
func (m *Metrics) OnPublish(eventType string, _ bus.Event) {
	m.busEvents.WithLabelValues(eventType).Inc()
}

// OnDelivered implements bus.EventBusObserver.
func (m *Metrics) OnDelivered(_ string, _ int, err error, d time.Duration) {
	if err != nil {
		m.busErrors.Inc()
	}
	m.handlerLatency.Observe(d.Seconds())
}
