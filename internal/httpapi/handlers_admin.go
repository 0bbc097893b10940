package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/health"
	"github.com/pennyroute/pennyroute/internal/store"
)

// CatalogReloadHandler re-reads the price catalog and swaps it in. The old
// table stays active when the new one fails to parse.
func CatalogReloadHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Source.Reload(); err != nil {
			jsonError(w, "reload: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
		t := d.Source.Table()
		if d.EventBus != nil {
			d.EventBus.Publish(events.Event{Type: events.EventCatalogReloaded})
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "models": t.Len()})
	}
}

func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := d.Source.Table()
		writeJSON(w, http.StatusOK, map[string]any{
			"models": t.Rows(),
			"policy": t.Policy(),
		})
	}
}

func ProviderHealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := []health.Stats{}
		if d.Health != nil {
			stats = d.Health.AllStats()
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": stats})
	}
}

// RecentCostsHandler returns the newest cost ledger rows, paged by
// limit/offset query parameters.
func RecentCostsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		if limit < 1 || limit > 500 {
			jsonError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			jsonError(w, "offset must be >= 0", http.StatusBadRequest)
			return
		}
		costs, err := d.Store.ListRecentCosts(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "list costs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if costs == nil {
			costs = []store.JobCost{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"costs": costs, "limit": limit, "offset": offset})
	}
}

func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	type unlockReq struct {
		MasterPassword string `json:"master_password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req unlockReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.MasterPassword == "" {
			jsonError(w, "master_password required", http.StatusBadRequest)
			return
		}
		// Restore the persisted salt and values before deriving the key,
		// otherwise the unlock mints a fresh salt and the old values can
		// never decrypt again.
		if d.Store != nil {
			if err := d.Vault.Load(r.Context(), d.Store); err != nil {
				jsonError(w, "load vault: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if err := d.Vault.Unlock([]byte(req.MasterPassword)); err != nil {
			jsonError(w, "unlock failed", http.StatusUnauthorized)
			return
		}
		if d.Store != nil {
			if err := d.Vault.Save(r.Context(), d.Store); err != nil {
				jsonError(w, "save vault: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Vault.IsLocked() {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "already_locked": true})
			return
		}
		d.Vault.Lock()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
