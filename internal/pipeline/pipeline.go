// Package pipeline executes one job end to end: prefetch, template merge,
// route, provider call with bounded retry and one fallback attempt, cost
// persistence, status transition, and integration dispatch. It is the only
// layer that turns typed errors into a caller-facing shape.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/integrations"
	"github.com/pennyroute/pennyroute/internal/metrics"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/routing"
	"github.com/pennyroute/pennyroute/internal/store"
)

// ModelRouter picks a provider/model for a routing request. Defined here to
// keep the pipeline testable without the full routing policy.
type ModelRouter interface {
	Choose(req routing.Request) (routing.Decision, error)
}

// Request is the submitted job payload the pipeline executes.
type Request struct {
	Prompt               string
	TaskType             string
	Integration          integrations.Kind // empty = analysis only
	Options              map[string]string
	ExpectedOutputTokens int
	QualityFloor         int
	CostCeilingUSD       float64
	ProviderHint         string
	ModelHint            string
	Temperature          float64
}

// Result is what the caller gets back for a completed job.
type Result struct {
	JobID             string  `json:"job_id"`
	Status            string  `json:"status"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	OutputText        string  `json:"output_text,omitempty"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	TokensIn          int     `json:"tokens_in"`
	TokensOut         int     `json:"tokens_out"`
	LatencyMs         int64   `json:"latency_ms"`
	Cached            bool    `json:"cached"`
	ArtifactURI       string  `json:"artifact_uri,omitempty"`
	IntegrationStatus string  `json:"integration_status,omitempty"`
	IntegrationError  string  `json:"integration_error,omitempty"`
	Error             string  `json:"error,omitempty"`
	ErrorCode         string  `json:"error_code,omitempty"`
}

// Pipeline wires the stages together. Bus and metrics are optional.
type Pipeline struct {
	store    store.Store
	router   ModelRouter
	source   *catalog.Source
	adapters map[string]providers.Adapter
	registry *integrations.Registry
	bus      *events.Bus
	metrics  *metrics.Registry

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Pipeline)

// WithBus publishes lifecycle events on the bus.
func WithBus(b *events.Bus) Option {
	return func(p *Pipeline) { p.bus = b }
}

// WithMetrics records job counters and latency histograms.
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSleep substitutes the backoff sleeper, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func New(st store.Store, router ModelRouter, source *catalog.Source, adapters map[string]providers.Adapter, registry *integrations.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		router:   router,
		source:   source,
		adapters: adapters,
		registry: registry,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the job. The returned Result always carries a terminal
// status; the error mirrors Result.Error for callers that branch on it.
func (p *Pipeline) Run(ctx context.Context, job store.Job, req Request) (Result, error) {
	res := Result{JobID: job.ID}

	if err := p.store.UpdateJobStatus(ctx, job.ID, store.StatusRunning); err != nil {
		return p.fail(ctx, job, res, fmt.Errorf("mark running: %w", err))
	}
	p.event(ctx, job, events.EventJobStarted, "info", "job started", nil)

	// Prefetch grounding context. A prefetch failure fails the job; it
	// happens before any model spend.
	contextText := ""
	if req.Integration != "" && p.registry != nil {
		text, err := p.registry.Prefetch(ctx, req.Integration, req.Options)
		if err != nil {
			return p.fail(ctx, job, res, err)
		}
		contextText = text
	}

	system, user := RenderPrompt(req.TaskType, req.Integration, req.Prompt, contextText)

	decision, err := p.router.Choose(routing.Request{
		Prompt:               user,
		ExpectedOutputTokens: req.ExpectedOutputTokens,
		QualityFloor:         req.QualityFloor,
		CostCeilingUSD:       req.CostCeilingUSD,
		ProviderHint:         req.ProviderHint,
		ModelHint:            req.ModelHint,
		SystemPrompt:         system,
		Temperature:          req.Temperature,
	})
	if err != nil {
		return p.fail(ctx, job, res, err)
	}
	res.Provider = decision.Provider
	res.Model = decision.Model
	res.EstimatedCostUSD = decision.EstimatedCostUSD
	p.event(ctx, job, events.EventRouteDecision, "info",
		fmt.Sprintf("routed to %s/%s est $%.6f", decision.Provider, decision.Model, decision.EstimatedCostUSD),
		func(e *events.Event) {
			e.Provider = decision.Provider
			e.Model = decision.Model
			e.CostUSD = decision.EstimatedCostUSD
		})

	adapter, ok := p.adapters[decision.Provider]
	if !ok {
		return p.fail(ctx, job, res, &catalog.ConfigError{Source: "adapters", Detail: fmt.Sprintf("no adapter registered for provider %q", decision.Provider)})
	}

	creq := providers.CompletionRequest{
		Prompt:             user,
		SystemPrompt:       decision.SystemPrompt,
		Temperature:        decision.Temperature,
		EstimatedTokensIn:  decision.TokensIn,
		EstimatedTokensOut: decision.TokensOut,
	}

	completion, model, callErr := p.callWithRetry(ctx, job, adapter, decision, creq)
	if callErr != nil {
		return p.fail(ctx, job, res, callErr)
	}
	res.Model = model
	res.OutputText = completion.Text
	res.TokensIn = completion.TokensIn
	res.TokensOut = completion.TokensOut
	res.LatencyMs = completion.latencyMs
	res.EstimatedCostUSD = p.actualCost(decision.Provider, model, completion)

	cost := store.JobCost{
		JobID:     job.ID,
		Provider:  decision.Provider,
		Model:     model,
		TokensIn:  completion.TokensIn,
		TokensOut: completion.TokensOut,
		CostUSD:   res.EstimatedCostUSD,
		LatencyMs: completion.latencyMs,
	}
	if err := p.store.AppendCost(ctx, cost); err != nil {
		slog.Error("cost append failed", "job_id", job.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.JobLatency.WithLabelValues(decision.Provider, model).Observe(float64(completion.latencyMs))
		p.metrics.CostUSD.WithLabelValues(decision.Provider, model).Add(res.EstimatedCostUSD)
		p.metrics.TokensTotal.WithLabelValues(decision.Provider, "in").Add(float64(completion.TokensIn))
		p.metrics.TokensTotal.WithLabelValues(decision.Provider, "out").Add(float64(completion.TokensOut))
	}

	if err := p.store.UpdateJobStatus(ctx, job.ID, store.StatusSucceeded); err != nil {
		slog.Error("status update failed", "job_id", job.ID, "error", err)
	}
	res.Status = string(store.StatusSucceeded)
	p.event(ctx, job, events.EventJobSucceeded, "info",
		fmt.Sprintf("succeeded on %s/%s $%.6f", decision.Provider, model, res.EstimatedCostUSD),
		func(e *events.Event) {
			e.Provider = decision.Provider
			e.Model = model
			e.CostUSD = res.EstimatedCostUSD
			e.LatencyMs = float64(completion.latencyMs)
		})
	if p.metrics != nil {
		p.metrics.JobsTotal.WithLabelValues(job.TaskType, decision.Provider, "succeeded").Inc()
	}

	// Integration dispatch runs after the job is Succeeded. A dispatch
	// failure is reported alongside the output; it never reverts the job.
	if req.Integration != "" && p.registry != nil {
		dres, derr := p.registry.Dispatch(ctx, req.Integration, res.OutputText, req.Options)
		if derr != nil {
			res.IntegrationError = derr.Error()
			p.event(ctx, job, events.EventIntegrationFailed, "warn", derr.Error(), func(e *events.Event) {
				e.Integration = string(req.Integration)
			})
		} else {
			res.IntegrationStatus = dres.Status
			res.ArtifactURI = dres.ArtifactURI
			if dres.OutputOverride != "" {
				res.OutputText = dres.OutputOverride
			}
			p.event(ctx, job, events.EventIntegrationOK, "info",
				fmt.Sprintf("integration %s: %s", req.Integration, dres.Status),
				func(e *events.Event) {
					e.Integration = string(req.Integration)
					e.ArtifactURI = dres.ArtifactURI
				})
		}
	}

	return res, nil
}

// timedCompletion carries the wall time of the winning attempt.
type timedCompletion struct {
	providers.Completion
	latencyMs int64
}

// callWithRetry attempts the chosen model up to max_attempts times with
// exponential backoff, retrying only transient failures, then makes exactly
// one attempt on the row's fallback model.
func (p *Pipeline) callWithRetry(ctx context.Context, job store.Job, adapter providers.Adapter, decision routing.Decision, creq providers.CompletionRequest) (timedCompletion, string, error) {
	retry := p.source.Table().Policy().Retry

	var lastErr error
	backoff := time.Duration(retry.InitialBackoffMs) * time.Millisecond
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))
			if err := p.sleep(ctx, jitter); err != nil {
				return timedCompletion{}, "", lastErr
			}
			backoff = time.Duration(float64(backoff) * retry.Multiplier)
			p.event(ctx, job, events.EventProviderRetry, "warn",
				fmt.Sprintf("retry %d/%d on %s/%s: %v", attempt, retry.MaxAttempts, decision.Provider, decision.Model, lastErr),
				func(e *events.Event) {
					e.Provider = decision.Provider
					e.Model = decision.Model
				})
		}

		start := time.Now()
		completion, err := adapter.Complete(ctx, decision.Model, creq)
		if err == nil {
			return timedCompletion{Completion: completion, latencyMs: time.Since(start).Milliseconds()}, decision.Model, nil
		}
		lastErr = err
		slog.Warn("provider call failed",
			"job_id", job.ID,
			"provider", decision.Provider,
			"model", decision.Model,
			"attempt", attempt,
			"error", err,
		)
		if !providers.Retryable(err) {
			break
		}
	}

	if decision.FallbackModel != "" && decision.FallbackModel != decision.Model {
		p.event(ctx, job, events.EventFallbackAttempt, "warn",
			fmt.Sprintf("falling back to %s/%s: %v", decision.Provider, decision.FallbackModel, lastErr),
			func(e *events.Event) {
				e.Provider = decision.Provider
				e.Model = decision.FallbackModel
			})
		start := time.Now()
		completion, err := adapter.Complete(ctx, decision.FallbackModel, creq)
		if err == nil {
			return timedCompletion{Completion: completion, latencyMs: time.Since(start).Milliseconds()}, decision.FallbackModel, nil
		}
		lastErr = err
	}

	return timedCompletion{}, "", lastErr
}

// actualCost prices the real usage against the catalog row of the model
// that answered. Falls back to zero when the row vanished mid-flight.
func (p *Pipeline) actualCost(provider, model string, c timedCompletion) float64 {
	row, ok := p.source.Table().Lookup(provider, model)
	if !ok {
		return 0
	}
	return routing.CostUSD(c.TokensIn, c.TokensOut, row)
}

func (p *Pipeline) fail(ctx context.Context, job store.Job, res Result, err error) (Result, error) {
	if uerr := p.store.UpdateJobStatus(ctx, job.ID, store.StatusFailed); uerr != nil {
		slog.Error("status update failed", "job_id", job.ID, "error", uerr)
	}
	res.Status = string(store.StatusFailed)
	res.Error = err.Error()
	res.ErrorCode = ErrorCode(err)
	p.event(ctx, job, events.EventJobFailed, "error", err.Error(), nil)
	if p.metrics != nil {
		p.metrics.JobsTotal.WithLabelValues(job.TaskType, res.Provider, "failed").Inc()
	}
	return res, err
}

func (p *Pipeline) event(ctx context.Context, job store.Job, typ events.EventType, level, msg string, decorate func(*events.Event)) {
	if err := p.store.AppendEvent(ctx, store.Event{JobID: job.ID, Level: level, Message: msg}); err != nil {
		slog.Error("event append failed", "job_id", job.ID, "error", err)
	}
	if p.bus == nil {
		return
	}
	e := events.Event{Type: typ, JobID: job.ID, TaskType: job.TaskType}
	if decorate != nil {
		decorate(&e)
	}
	p.bus.Publish(e)
}

// ErrorCode maps typed errors onto stable caller-facing codes.
func ErrorCode(err error) string {
	var (
		cfg     *catalog.ConfigError
		viable  *routing.NoViableModelError
		auth    *providers.AuthenticationError
		timeout *providers.TimeoutError
		up      *providers.UpstreamError
		integ   *integrations.IntegrationError
	)
	switch {
	case errors.As(err, &cfg):
		return "config_error"
	case errors.As(err, &viable):
		return "no_viable_model"
	case errors.As(err, &auth):
		return "authentication_error"
	case errors.As(err, &timeout):
		return "timeout_error"
	case errors.As(err, &up):
		return "upstream_error"
	case errors.As(err, &integ):
		return "integration_error"
	}
	return "internal_error"
}
