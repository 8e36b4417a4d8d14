// Package metrics holds the Prometheus collectors shared by the API, the
// worker and the sync agent. All methods are safe on a nil *Metrics, so
// services can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parcelsync"

type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	refreshOutcomes  *prometheus.CounterVec
	pollCycles       *prometheus.CounterVec
	pollPackages     *prometheus.CounterVec
	pushes           *prometheus.CounterVec
	syncChanges      *prometheus.CounterVec
}

func New() *Metrics {
	// свой registry, чтобы тесты не конфликтовали с глобальным
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_calls_total",
			Help: "Tracking provider calls by provider and result kind.",
		}, []string{"provider", "result"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "provider_call_duration_seconds",
			Help: "Tracking provider call latency.", Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		refreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_outcomes_total",
			Help: "Refresh outcomes (refreshed, skipped, cancelled, failed).",
		}, []string{"outcome"}),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_cycles_total",
			Help: "Fleet poll cycles by result.",
		}, []string{"result"}),
		pollPackages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_packages_total",
			Help: "Packages seen by the fleet poller by result.",
		}, []string{"result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pushes_total",
			Help: "Push sends by kind and result.",
		}, []string{"kind", "result"}),
		syncChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_changes_total",
			Help: "Remote changes handled by the sync engine by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.providerCalls, m.providerDuration, m.refreshOutcomes,
		m.pollCycles, m.pollPackages, m.pushes, m.syncChanges,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler отдаёт /metrics для этого registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProviderCall(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RefreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.refreshOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PollCycle(result string) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) PollPackage(result string) {
	if m == nil {
		return
	}
	m.pollPackages.WithLabelValues(result).Inc()
}

func (m *Metrics) Push(kind, result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SyncChange(action string) {
	if m == nil {
		return
	}
	m.syncChanges.WithLabelValues(action).Inc()
}
