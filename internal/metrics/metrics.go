// Package metrics holds Prometheus instruments that are used across
// NekoConf.  All collectors are registered with the global registry, so
// mounting promhttp.Handler() is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OverridesApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nekoconf_env_overrides_applied_total",
			Help: "Cumulative number of configuration values set from environment variables.",
		})

	OverrideErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nekoconf_env_override_errors_total",
			Help: "Cumulative number of environment values that failed to parse or apply.",
		})

	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nekoconf_mutations_total",
			Help: "Committed configuration mutations, by operation.",
		}, []string{"op"})

	ObserverFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nekoconf_observer_failures_total",
			Help: "Notification rounds aborted by a failing observer.",
		})

	Reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nekoconf_reloads_total",
			Help: "Configuration reloads from disk, by result.",
		}, []string{"result"})

	ValidationErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nekoconf_validation_errors",
			Help: "Schema errors found by the most recent validation.",
		})

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nekoconf_http_requests_total",
			Help: "HTTP API requests, by method and status code.",
		}, []string{"method", "code"})
)

func init() {
	prometheus.MustRegister(
		OverridesApplied,
		OverrideErrors,
		Mutations,
		ObserverFailures,
		Reloads,
		ValidationErrors,
		HTTPRequests,
	)
}
