// Package metrics exposes Prometheus collectors for ledger operations, mirror
// writes and the HTTP surface. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracker"

// OutcomeOK labels a successful ledger operation; failures are labelled by error kind.
const OutcomeOK = "ok"

// Collector is a prometheus.Collector for the tracker.
type Collector struct {
	ledgerOps      *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	mirrorFailures *prometheus.CounterVec
	factNotFound   prometheus.Counter
	appliedFacts   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		ledgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Ledger operations by method and outcome kind.",
			}, []string{"op", "outcome"},
		),
		ledgerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_operation_seconds",
				Help:      "Time from submission to finalization.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"op"},
		),
		mirrorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_write_failures_total",
				Help:      "Mirror writes that failed, including those after ledger confirmation.",
			}, []string{"op"},
		),
		factNotFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_not_found_total",
				Help:      "Finalized registrations whose receipt carried no registration fact.",
			},
		),
		appliedFacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applied_facts_total",
				Help:      "Decoded facts applied to the mirror, by kind.",
			}, []string{"kind"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			}, []string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.ledgerOps.Describe(ch)
	c.ledgerDuration.Describe(ch)
	c.mirrorFailures.Describe(ch)
	c.factNotFound.Describe(ch)
	c.appliedFacts.Describe(ch)
	c.httpRequests.Describe(ch)
	c.httpDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.ledgerOps.Collect(ch)
	c.ledgerDuration.Collect(ch)
	c.mirrorFailures.Collect(ch)
	c.factNotFound.Collect(ch)
	c.appliedFacts.Collect(ch)
	c.httpRequests.Collect(ch)
	c.httpDuration.Collect(ch)
}

// LedgerOp records one ledger operation. outcome is OutcomeOK or an error kind.
func (c *Collector) LedgerOp(op, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ledgerOps.WithLabelValues(op, outcome).Inc()
	if outcome == OutcomeOK {
		c.ledgerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

func (c *Collector) MirrorWriteFailed(op string) {
	if c == nil {
		return
	}
	c.mirrorFailures.WithLabelValues(op).Inc()
}

func (c *Collector) FactNotFound() {
	if c == nil {
		return
	}
	c.factNotFound.Inc()
}

func (c *Collector) FactApplied(kind string) {
	if c == nil {
		return
	}
	c.appliedFacts.WithLabelValues(kind).Inc()
}

func (c *Collector) Request(method, route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// NewRegistry registers the collector alongside the Go runtime and process
// collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
