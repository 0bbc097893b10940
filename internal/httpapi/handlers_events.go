package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pennyroute/pennyroute/internal/events"
)

// sseKeepalive bounds how long an idle stream goes without traffic so
// proxies do not reap the connection.
const sseKeepalive = 25 * time.Second

// SSEHandler streams job lifecycle events (queued, routed, retried,
// succeeded, failed, integration outcomes, health changes) as Server-Sent
// Events. An optional ?job_id= filters the stream to one job.
func SSEHandler(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		jobFilter := r.URL.Query().Get("job_id")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		_, _ = fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case e := <-sub.C:
				if jobFilter != "" && e.JobID != jobFilter {
					continue
				}
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.JSON())
				flusher.Flush()
			}
		}
	}
}
