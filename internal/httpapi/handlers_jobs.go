package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/idempotency"
	"github.com/pennyroute/pennyroute/internal/integrations"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/store"
	temporalpkg "github.com/pennyroute/pennyroute/internal/temporal"
)

// JobRequest is the JSON body for the POST /v1/jobs endpoint.
type JobRequest struct {
	UserID   string `json:"user_id,omitempty"`
	TaskType string `json:"task_type,omitempty"`
	Prompt   string `json:"prompt"`

	// Integration names a post-processing side effect; empty means the job
	// is analysis only.
	Integration string            `json:"integration,omitempty"`
	Options     map[string]string `json:"options,omitempty"`

	ExpectedOutputTokens int     `json:"expected_output_tokens,omitempty"`
	QualityFloor         int     `json:"quality_floor,omitempty"`
	CostCeilingUSD       float64 `json:"cost_ceiling_usd,omitempty"`
	Provider             string  `json:"provider,omitempty"`
	Model                string  `json:"model,omitempty"`
	Temperature          float64 `json:"temperature,omitempty"`

	DedupeKey string `json:"dedupe_key,omitempty"`

	// Async enqueues the job instead of running it in-request.
	Async bool `json:"async,omitempty"`
}

func JobsCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Prompt == "" {
			jsonError(w, "prompt required", http.StatusBadRequest)
			return
		}
		if req.QualityFloor < 0 {
			jsonError(w, "quality_floor must be >= 0", http.StatusBadRequest)
			return
		}

		var kind integrations.Kind
		if req.Integration != "" {
			k, err := integrations.ParseKind(req.Integration)
			if err != nil {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			kind = k
		}

		// Replay the prior response for a repeated dedupe key before
		// touching the store.
		cacheKey := ""
		if req.DedupeKey != "" && d.Dedupe != nil {
			cacheKey = idempotency.Key(req.UserID, req.DedupeKey)
			if body, ok := d.Dedupe.Get(cacheKey); ok {
				var res pipeline.Result
				if json.Unmarshal(body, &res) == nil {
					res.Cached = true
					writeJSON(w, http.StatusOK, res)
					return
				}
			}
		}

		job := store.Job{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			TaskType:       req.TaskType,
			Status:         store.StatusQueued,
			CostCeilingUSD: req.CostCeilingUSD,
			DedupeKey:      req.DedupeKey,
		}
		created, reused, err := d.Store.CreateJob(r.Context(), job)
		if err != nil {
			jsonError(w, "create job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if reused {
			// Same dedupe key, existing row wins. The response cache missed,
			// so only the job identity comes back.
			writeJSON(w, http.StatusOK, pipeline.Result{
				JobID:  created.ID,
				Status: string(created.Status),
				Cached: true,
			})
			return
		}

		if d.EventBus != nil {
			d.EventBus.Publish(events.Event{
				Type:     events.EventJobQueued,
				JobID:    created.ID,
				TaskType: created.TaskType,
			})
		}

		preq := pipeline.Request{
			Prompt:               req.Prompt,
			TaskType:             req.TaskType,
			Integration:          kind,
			Options:              req.Options,
			ExpectedOutputTokens: req.ExpectedOutputTokens,
			QualityFloor:         req.QualityFloor,
			CostCeilingUSD:       req.CostCeilingUSD,
			ProviderHint:         req.Provider,
			ModelHint:            req.Model,
			Temperature:          req.Temperature,
		}

		if req.Async {
			if d.Queue == nil {
				jsonError(w, "async submission disabled", http.StatusBadRequest)
				return
			}
			body, err := json.Marshal(preq)
			if err != nil {
				jsonError(w, "encode job: "+err.Error(), http.StatusInternalServerError)
				return
			}
			if err := d.Queue.Publish(r.Context(), created.ID, body); err != nil {
				jsonError(w, "enqueue: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusAccepted, pipeline.Result{
				JobID:  created.ID,
				Status: string(store.StatusQueued),
			})
			return
		}

		// Tag outbound provider calls with the inbound request ID.
		ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		res := runJob(ctx, d, created, preq)
		if cacheKey != "" && res.Status == string(store.StatusSucceeded) {
			if body, err := json.Marshal(res); err == nil {
				d.Dedupe.Set(cacheKey, body)
			}
		}
		writeJSON(w, statusForResult(res), res)
	}
}

// runJob executes the job through Temporal when the client is wired and the
// circuit allows, otherwise directly through the pipeline. A Temporal infra
// failure trips the breaker and falls back to direct execution.
func runJob(ctx context.Context, d Dependencies, job store.Job, preq pipeline.Request) pipeline.Result {
	if d.TemporalClient != nil && (d.CircuitBreaker == nil || d.CircuitBreaker.Allow()) {
		input := temporalpkg.JobInput{
			JobID:    job.ID,
			UserID:   job.UserID,
			TaskType: job.TaskType,
			Request:  preq,
		}
		run, err := d.TemporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        "job-" + job.ID,
			TaskQueue: d.TemporalTaskQueue,
		}, temporalpkg.JobWorkflow, input)
		if err == nil {
			var res pipeline.Result
			gerr := run.Get(ctx, &res)
			if gerr == nil {
				if d.CircuitBreaker != nil {
					d.CircuitBreaker.RecordSuccess()
				}
				return res
			}
			var appErr *sdktemporal.ApplicationError
			if errors.As(gerr, &appErr) {
				// The job itself failed; the workflow already persisted the
				// terminal state. Temporal did its part.
				if d.CircuitBreaker != nil {
					d.CircuitBreaker.RecordSuccess()
				}
				return pipeline.Result{
					JobID:     job.ID,
					Status:    string(store.StatusFailed),
					Error:     appErr.Message(),
					ErrorCode: appErr.Type(),
				}
			}
			slog.Warn("temporal workflow result failed, falling back", "job_id", job.ID, "error", gerr)
		} else {
			slog.Warn("temporal workflow start failed, falling back", "job_id", job.ID, "error", err)
		}
		if d.CircuitBreaker != nil {
			d.CircuitBreaker.RecordFailure()
		}
	}

	res, _ := d.Pipeline.Run(ctx, job, preq)
	return res
}

// statusForResult maps a terminal job result onto an HTTP status code.
func statusForResult(res pipeline.Result) int {
	if res.Status == string(store.StatusSucceeded) {
		return http.StatusOK
	}
	switch res.ErrorCode {
	case "no_viable_model":
		return http.StatusUnprocessableEntity
	case "authentication_error", "upstream_error", "integration_error":
		return http.StatusBadGateway
	case "timeout_error":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func JobsGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := d.Store.GetJob(r.Context(), id)
		if err != nil {
			jsonError(w, "get job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if job == nil {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func JobCostsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := d.Store.GetJob(r.Context(), id)
		if err != nil {
			jsonError(w, "get job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if job == nil {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		costs, err := d.Store.ListJobCosts(r.Context(), id)
		if err != nil {
			jsonError(w, "list costs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if costs == nil {
			costs = []store.JobCost{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "costs": costs})
	}
}

func JobEventsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		evts, err := d.Store.ListJobEvents(r.Context(), id)
		if err != nil {
			jsonError(w, "list events: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if evts == nil {
			evts = []store.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "events": evts})
	}
}
