// Package httpapi exposes the job submission, status, admin and event
// surfaces over chi.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/circuitbreaker"
	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/health"
	"github.com/pennyroute/pennyroute/internal/idempotency"
	"github.com/pennyroute/pennyroute/internal/metrics"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/queue"
	"github.com/pennyroute/pennyroute/internal/store"
	"github.com/pennyroute/pennyroute/internal/vault"
)

type Dependencies struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Source   *catalog.Source
	Adapters map[string]providers.Adapter
	Health   *health.Tracker
	Vault    *vault.Vault
	Metrics  *metrics.Registry
	EventBus *events.Bus

	// Queue is the async submission transport (nil = sync execution only).
	Queue queue.Transport

	// Dedupe replays the prior response for a repeated dedupe key.
	Dedupe *idempotency.Cache

	// AdminToken guards /admin/v1 when non-empty.
	AdminToken string

	// Temporal workflow client (nil when Temporal is disabled).
	TemporalClient    client.Client
	TemporalTaskQueue string
	CircuitBreaker    *circuitbreaker.Breaker
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Verify the system can actually route jobs.
		modelCount := d.Source.Table().Len()
		adapterCount := len(d.Adapters)
		status := "ok"
		code := http.StatusOK
		if adapterCount == 0 || modelCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   status,
			"adapters": adapterCount,
			"models":   modelCount,
		})
	})

	r.Get("/warmup", WarmupHandler(d))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", JobsCreateHandler(d))
		r.Get("/jobs/{id}", JobsGetHandler(d))
		r.Get("/jobs/{id}/costs", JobCostsHandler(d))
		r.Get("/jobs/{id}/events", JobEventsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != "" {
			r.Use(AdminAuth(d.AdminToken))
		}
		r.Post("/catalog/reload", CatalogReloadHandler(d))
		r.Get("/models", ModelsListHandler(d))
		r.Get("/providers/health", ProviderHealthHandler(d))
		r.Get("/costs", RecentCostsHandler(d))
		r.Post("/vault/unlock", VaultUnlockHandler(d))
		r.Post("/vault/lock", VaultLockHandler(d))
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
