// Package metrics holds the sinkhole's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sinkhole"

type Metrics struct {
	registry *prometheus.Registry

	blocklistDomains prometheus.Gauge
	allowlistDomains prometheus.Gauge
	sourceFetch      *prometheus.CounterVec
	sourceEntries    *prometheus.GaugeVec
	refreshDuration  prometheus.Histogram
	queries          *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocklistDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocklist_domains",
			Help:      "Domains in the published block set.",
		}),
		allowlistDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allowlist_domains",
			Help:      "Domains in the published allow set.",
		}),
		sourceFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Blocklist source fetches by outcome.",
		}, []string{"source", "result"}),
		sourceEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_entries",
			Help:      "Entries parsed from each source on its last successful fetch.",
		}, []string{"source"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of blocklist refreshes.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries handled by decision.",
		}, []string{"decision"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Forwarded queries answered with SERVFAIL, by reason.",
		}, []string{"reason"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Round-trip time of successful upstream exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.blocklistDomains,
		m.allowlistDomains,
		m.sourceFetch,
		m.sourceEntries,
		m.refreshDuration,
		m.queries,
		m.upstreamFailures,
		m.upstreamDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetBlocklistDomains(n int) {
	if m == nil {
		return
	}
	m.blocklistDomains.Set(float64(n))
}

func (m *Metrics) SetAllowlistDomains(n int) {
	if m == nil {
		return
	}
	m.allowlistDomains.Set(float64(n))
}

// SourceFetched records one fetch outcome; entries is only recorded on success.
func (m *Metrics) SourceFetched(source string, ok bool, entries int) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
		m.sourceEntries.WithLabelValues(source).Set(float64(entries))
	}
	m.sourceFetch.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveRefresh(d time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(d.Seconds())
}

// Query counts one handled query; decision is "block", "allow" or "servfail".
func (m *Metrics) Query(decision string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(decision).Inc()
}

// UpstreamFailure counts one failed forward; reason is "timeout" or "error".
func (m *Metrics) UpstreamFailure(reason string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveUpstream(d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.Observe(d.Seconds())
}
