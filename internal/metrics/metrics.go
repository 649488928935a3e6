package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all reconciliation metrics.
type Registry struct {
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RuleActions      *prometheus.CounterVec
	RemoteErrors     *prometheus.CounterVec
	IPLookupFailures *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
	DeclaredRules    prometheus.Gauge
	APIRequests      *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_reconcile_runs_total",
		Help: "Reconciliation runs by final status and mode",
	}, []string{"status", "dry_run"})

	r.RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waf_reconcile_duration_seconds",
		Help:    "Duration of reconciliation runs",
		Buckets: prometheus.DefBuckets,
	})

	r.RuleActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_rule_actions_total",
		Help: "Per-rule reconciliation outcomes",
	}, []string{"action", "state"})

	r.RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_remote_errors_total",
		Help: "Firewall API failures by kind",
	}, []string{"kind"})

	r.IPLookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_ip_lookup_failures_total",
		Help: "Failed address lookups by source",
	}, []string{"source"})

	r.LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waf_last_run_timestamp_seconds",
		Help: "Unix timestamp of the last finished run",
	})

	r.DeclaredRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waf_declared_rules",
		Help: "Number of rules in the last loaded rules document",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_api_requests_total",
		Help: "HTTP API requests by method and status",
	}, []string{"method", "status"})

	return r
}
