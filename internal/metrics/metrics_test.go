package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryExposesSeries(t *testing.T) {
	m := New()
	m.JobsTotal.WithLabelValues("mail.triage", "ollama", "succeeded").Inc()
	m.JobLatency.WithLabelValues("ollama", "tinyllama").Observe(42)
	m.CostUSD.WithLabelValues("openai", "gpt-4o-mini").Add(0.0031)
	m.TokensTotal.WithLabelValues("openai", "in").Add(120)
	m.RateLimited.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"pennyroute_jobs_total",
		"pennyroute_job_latency_ms",
		"pennyroute_cost_usd_total",
		"pennyroute_tokens_total",
		"pennyroute_ratelimit_rejections_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
