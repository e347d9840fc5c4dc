// Package metrics exposes Prometheus collectors for the crawler.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"invcrawler/pkg/logger"
)

const namespace = "invcrawler"

// Metrics groups the crawler collectors
type Metrics struct {
	requests         *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	gateTrips        *prometheus.CounterVec
	accounts         *prometheus.CounterVec
	canonicalCreated *prometheus.CounterVec
	discovered       prometheus.Counter
	orphansDeleted   prometheus.Counter
	quota            prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "upstream", "requests_total"),
			Help: "Upstream requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prometheus.BuildFQName(namespace, "upstream", "request_duration_seconds"),
			Help:    "Upstream request latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
		gateTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "gate", "trips_total"),
			Help: "Rate-limit gate trips by reason.",
		}, []string{"reason"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "crawl", "accounts_total"),
			Help: "Processed accounts by result (mapped, empty, discarded, failed).",
		}, []string{"result"}),
		canonicalCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "canonical", "rows_created_total"),
			Help: "Canonical rows inserted by kind.",
		}, []string{"kind"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "discovery", "accounts_total"),
			Help: "Accounts added to the candidate pool.",
		}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "reconcile", "orphans_deleted_total"),
			Help: "Item stacks deleted because no inventory owned them.",
		}),
		quota: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "crawl", "mapped_with_inventory"),
			Help: "Accounts mapped with a non-empty inventory.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.requestLatency, m.gateTrips, m.accounts,
			m.canonicalCreated, m.discovered, m.orphansDeleted, m.quota)
	}
	return m
}

// ObserveRequest records one upstream request
func (m *Metrics) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// GateTripped records a fresh gate trip
func (m *Metrics) GateTripped(reason string) {
	if m == nil {
		return
	}
	m.gateTrips.WithLabelValues(reason).Inc()
}

// AccountProcessed records the result of one account
func (m *Metrics) AccountProcessed(result string) {
	if m == nil {
		return
	}
	m.accounts.WithLabelValues(result).Inc()
}

// CanonicalCreated records a new canonical row
func (m *Metrics) CanonicalCreated(kind string) {
	if m == nil {
		return
	}
	m.canonicalCreated.WithLabelValues(kind).Inc()
}

// AccountsDiscovered records accounts added to the pool
func (m *Metrics) AccountsDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.Add(float64(n))
}

// OrphansDeleted records swept item stacks
func (m *Metrics) OrphansDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansDeleted.Add(float64(n))
}

// SetMapped publishes the quota counter
func (m *Metrics) SetMapped(n int) {
	if m == nil {
		return
	}
	m.quota.Set(float64(n))
}

// Handler serves the collectors of g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.LogComponentStart(logger.OrNop(log), "metrics", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
