// Package metrics exposes the proxy's Prometheus instrumentation: a struct
// of pre-registered vectors, one constructor that registers everything
// against a supplied prometheus.Registerer, and narrow Record*/Inc*/
// Observe* methods so callers never touch label names directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics holds every counter, gauge, and histogram the pipeline reports.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	cacheEvictions   prometheus.Gauge
	cacheExpirations prometheus.Gauge
	cacheSize        prometheus.Gauge

	ruleFiringsTotal *prometheus.CounterVec

	scriptInvocationsTotal *prometheus.CounterVec
	scriptDuration         prometheus.Histogram
	scriptTimeoutsTotal    prometheus.Counter
	scriptQueueFullTotal   prometheus.Counter

	recordingsStoredTotal *prometheus.CounterVec
	recordingReplaysTotal *prometheus.CounterVec

	tcpFaultsTotal *prometheus.CounterVec

	httpHandler func(*fasthttp.RequestCtx)
}

// New builds and registers the proxy's metrics against registerer.
func New(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of requests handled, by upstream and decision source",
	}, []string{"upstream", "source", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "End-to-end request handling latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"upstream", "source"})

	m.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decision_cache_hits_total",
		Help:      "Total decision cache hits",
	})
	m.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decision_cache_misses_total",
		Help:      "Total decision cache misses",
	})
	m.cacheEvictions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decision_cache_evictions_total",
		Help:      "Total decision cache LRU evictions",
	})
	m.cacheExpirations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decision_cache_expirations_total",
		Help:      "Total decision cache TTL expirations",
	})
	m.cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decision_cache_size",
		Help:      "Current number of entries in the decision cache",
	})

	m.ruleFiringsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_firings_total",
		Help:      "Total number of times each rule fired",
	}, []string{"rule_id", "fault"})

	m.scriptInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "script_invocations_total",
		Help:      "Total script rule invocations, by outcome",
	}, []string{"rule_id", "outcome"})
	m.scriptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "script_duration_seconds",
		Help:      "Script invocation latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})
	m.scriptTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "script_timeouts_total",
		Help:      "Total script invocations that exceeded their timeout",
	})
	m.scriptQueueFullTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "script_queue_full_total",
		Help:      "Total script submissions rejected because the worker queue was full",
	})

	m.recordingsStoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_stored_total",
		Help:      "Total responses persisted to the recording store, by mode",
	}, []string{"mode"})
	m.recordingReplaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recording_replays_total",
		Help:      "Total requests served from a recorded response",
	}, []string{"mode"})

	m.tcpFaultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tcp_faults_total",
		Help:      "Total TCP-level faults injected, by kind",
	}, []string{"kind"})

	registerer.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheEvictions,
		m.cacheExpirations,
		m.cacheSize,
		m.ruleFiringsTotal,
		m.scriptInvocationsTotal,
		m.scriptDuration,
		m.scriptTimeoutsTotal,
		m.scriptQueueFullTotal,
		m.recordingsStoredTotal,
		m.recordingReplaysTotal,
		m.tcpFaultsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	m.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return m
}

func (m *Metrics) RecordRequest(upstream, source, status string, d time.Duration) {
	m.requestsTotal.WithLabelValues(upstream, source, status).Inc()
	m.requestDuration.WithLabelValues(upstream, source).Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit()  { m.cacheHitsTotal.Inc() }
func (m *Metrics) RecordCacheMiss() { m.cacheMissesTotal.Inc() }

// SyncCacheMetrics overwrites the eviction/expiration/size gauges from the
// decision cache's own cumulative Metrics snapshot, avoiding double
// accounting between the cache's counters and this package's.
func (m *Metrics) SyncCacheMetrics(evictions, expirations int64, size int) {
	m.cacheEvictions.Set(float64(evictions))
	m.cacheExpirations.Set(float64(expirations))
	m.cacheSize.Set(float64(size))
}

func (m *Metrics) RecordRuleFiring(ruleID, fault string) {
	m.ruleFiringsTotal.WithLabelValues(ruleID, fault).Inc()
}

func (m *Metrics) RecordScriptInvocation(ruleID, outcome string, d time.Duration) {
	m.scriptInvocationsTotal.WithLabelValues(ruleID, outcome).Inc()
	m.scriptDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordScriptTimeout()   { m.scriptTimeoutsTotal.Inc() }
func (m *Metrics) RecordScriptQueueFull() { m.scriptQueueFullTotal.Inc() }

func (m *Metrics) RecordRecordingStored(mode string) {
	m.recordingsStoredTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordRecordingReplay(mode string) {
	m.recordingReplaysTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordTCPFault(kind string) {
	m.tcpFaultsTotal.WithLabelValues(kind).Inc()
}

// ServeHTTP exposes the registered metrics for the metrics listener.
func (m *Metrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.httpHandler(ctx)
}
