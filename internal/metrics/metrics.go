// Package metrics declares the Prometheus collectors shared across the
// monitor, validator and rotator (which also records rate-limit decisions).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MonitorProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_monitor_probes_total",
		Help: "Total number of health-check probes run by the monitor.",
	}, []string{"result"})

	MonitorEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_monitor_evictions_total",
		Help: "Total number of proxies evicted by the monitor for exceeding the failure threshold.",
	}, []string{})

	MonitorPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxywhirl_monitor_pass_duration_seconds",
		Help:    "Duration of one full monitor check_interval pass.",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{})

	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_validations_total",
		Help: "Total number of proxy validations, by level reached and outcome.",
	}, []string{"level", "success"})

	RotatorForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_rotator_forwards_total",
		Help: "Total number of forward attempts, by outcome.",
	}, []string{"outcome"})

	RotatorFailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_rotator_failovers_total",
		Help: "Total number of times forward had to fail over to a different proxy.",
	}, []string{})

	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_ratelimit_decisions_total",
		Help: "Total number of rate-limit decisions, by outcome.",
	}, []string{"allowed"})

	FetchCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxywhirl_fetch_candidates_total",
		Help: "Total number of deduplicated candidates returned by fetch_all, by source.",
	}, []string{"source"})
)
