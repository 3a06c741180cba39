package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/gnss-nav-engine/core"
)

// NavCollector bundles Prometheus metrics for the navigation stores and the
// query front end. It implements core.MetricsRecorder and also counts group
// path corrections.
type NavCollector struct {
	gatherer prometheus.Gatherer

	StoredRecords   *prometheus.GaugeVec
	Ingests         *prometheus.CounterVec
	IngestDurations *prometheus.HistogramVec
	Queries         *prometheus.CounterVec
	QueryDurations  *prometheus.HistogramVec
	KeplerFailures  prometheus.Counter
	Corrections     *prometheus.CounterVec
}

var _ core.MetricsRecorder = (*NavCollector)(nil)

// NewNavCollector registers the navigation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewNavCollector(reg prometheus.Registerer) (*NavCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	records, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "navstore_records",
		Help: "Records currently held, labeled by source format.",
	}, []string{"format"}), "navstore_records")
	if err != nil {
		return nil, err
	}

	ingests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "navstore_ingest_total",
		Help: "Sources ingested, labeled by format and result.",
	}, []string{"format", "result"}), "navstore_ingest_total")
	if err != nil {
		return nil, err
	}

	ingestDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "navstore_ingest_duration_seconds",
		Help:    "Time spent decoding one source.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"format"}), "navstore_ingest_duration_seconds")
	if err != nil {
		return nil, err
	}

	queries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "navstore_queries_total",
		Help: "Library queries, labeled by operation and result.",
	}, []string{"op", "result"}), "navstore_queries_total")
	if err != nil {
		return nil, err
	}

	queryDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "navstore_query_duration_seconds",
		Help:    "Library query latency in seconds.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"op"}), "navstore_query_duration_seconds")
	if err != nil {
		return nil, err
	}

	kepler, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "navstore_kepler_failures_total",
		Help: "Kepler equation solutions that did not converge.",
	}), "navstore_kepler_failures_total")
	if err != nil {
		return nil, err
	}

	corrections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "navstore_corrections_total",
		Help: "Group path corrections computed, labeled by corrector type and result.",
	}, []string{"type", "result"}), "navstore_corrections_total")
	if err != nil {
		return nil, err
	}

	return &NavCollector{
		gatherer:        gatherer,
		StoredRecords:   records,
		Ingests:         ingests,
		IngestDurations: ingestDurations,
		Queries:         queries,
		QueryDurations:  queryDurations,
		KeplerFailures:  kepler,
		Corrections:     corrections,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *NavCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *NavCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrNavDataNotFound):
		return "not_found"
	}
	return "error"
}

func (c *NavCollector) ObserveIngest(format string, records int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Ingests.WithLabelValues(format, result(err)).Inc()
	c.IngestDurations.WithLabelValues(format).Observe(elapsed.Seconds())
}

func (c *NavCollector) ObserveQuery(op string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(op, result(err)).Inc()
	c.QueryDurations.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *NavCollector) SetStoredRecords(format string, n int) {
	if c == nil {
		return
	}
	c.StoredRecords.WithLabelValues(format).Set(float64(n))
}

func (c *NavCollector) IncKeplerFailure() {
	if c == nil {
		return
	}
	c.KeplerFailures.Inc()
}

// ObserveCorrection counts one corrector evaluation.
func (c *NavCollector) ObserveCorrection(kind string, err error) {
	if c == nil {
		return
	}
	c.Corrections.WithLabelValues(kind, result(err)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
