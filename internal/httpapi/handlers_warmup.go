package httpapi

import (
	"context"
	"net/http"

	"github.com/pennyroute/pennyroute/internal/routing"
)

// warmer is implemented by adapters that can pre-load a model.
type warmer interface {
	Warm(ctx context.Context, model string) error
}

// WarmupHandler pre-loads a local model via the quick-pick mapping so the
// first real job does not pay the cold-start latency. Query parameters
// quality_floor and kind steer the pick.
func WarmupHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qp := routing.DefaultQuickPick()
		floor := queryInt(r, "quality_floor", 0)
		kind := r.URL.Query().Get("kind")
		choice := qp.Pick(floor, kind)

		adapter, ok := d.Adapters[qp.Provider]
		if !ok {
			jsonError(w, "no local provider registered", http.StatusServiceUnavailable)
			return
		}
		wa, ok := adapter.(warmer)
		if !ok {
			jsonError(w, "provider does not support warmup", http.StatusServiceUnavailable)
			return
		}
		model := choice.Model
		if err := wa.Warm(r.Context(), model); err != nil {
			if choice.Fallback == "" {
				jsonError(w, "warmup: "+err.Error(), http.StatusBadGateway)
				return
			}
			model = choice.Fallback
			if err := wa.Warm(r.Context(), model); err != nil {
				jsonError(w, "warmup: "+err.Error(), http.StatusBadGateway)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "warmed",
			"provider": qp.Provider,
			"model":    model,
		})
	}
}
