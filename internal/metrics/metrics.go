package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	JobsTotal   *prometheus.CounterVec
	JobLatency  *prometheus.HistogramVec
	CostUSD     *prometheus.CounterVec
	TokensTotal *prometheus.CounterVec
	RateLimited prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennyroute_jobs_total",
			Help: "Jobs processed, by task type, provider and final status",
		}, []string{"task_type", "provider", "status"}),
		JobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pennyroute_job_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider", "model"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennyroute_cost_usd_total",
			Help: "Accumulated USD cost of completed provider calls",
		}, []string{"provider", "model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pennyroute_tokens_total",
			Help: "Tokens consumed, by provider and direction (in/out)",
		}, []string{"provider", "direction"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pennyroute_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(m.JobsTotal, m.JobLatency, m.CostUSD, m.TokensTotal, m.RateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
