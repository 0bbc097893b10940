package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/health"
	"github.com/pennyroute/pennyroute/internal/integrations"
	"github.com/pennyroute/pennyroute/internal/metrics"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/routing"
	"github.com/pennyroute/pennyroute/internal/store"
)

// Activities holds dependencies for Temporal activity implementations. The
// set mirrors what the direct execution pipeline wires, so a job runs the
// same whether it went through Temporal or not.
type Activities struct {
	Store        store.Store
	Router       pipeline.ModelRouter
	Source       *catalog.Source
	Adapters     map[string]providers.Adapter
	Integrations *integrations.Registry
	Health       *health.Tracker
	Metrics      *metrics.Registry
	EventBus     *events.Bus
}

// PrepareJob marks the job running, prefetches integration context, renders
// the prompt pair and routes. Routing and prefetch failures come back as
// Err/ErrorCode, not activity errors, so the workflow sees them.
func (a *Activities) PrepareJob(ctx context.Context, input JobInput) (PrepareOutput, error) {
	if err := a.Store.UpdateJobStatus(ctx, input.JobID, store.StatusRunning); err != nil {
		return PrepareOutput{}, fmt.Errorf("mark running: %w", err)
	}
	a.appendEvent(ctx, input.JobID, input.TaskType, events.EventJobStarted, "info", "job started", nil)

	contextText := ""
	if input.Request.Integration != "" && a.Integrations != nil {
		text, err := a.Integrations.Prefetch(ctx, input.Request.Integration, input.Request.Options)
		if err != nil {
			return PrepareOutput{Err: err.Error(), ErrorCode: pipeline.ErrorCode(err)}, nil
		}
		contextText = text
	}

	system, user := pipeline.RenderPrompt(input.Request.TaskType, input.Request.Integration, input.Request.Prompt, contextText)

	decision, err := a.Router.Choose(routing.Request{
		Prompt:               user,
		ExpectedOutputTokens: input.Request.ExpectedOutputTokens,
		QualityFloor:         input.Request.QualityFloor,
		CostCeilingUSD:       input.Request.CostCeilingUSD,
		ProviderHint:         input.Request.ProviderHint,
		ModelHint:            input.Request.ModelHint,
		SystemPrompt:         system,
		Temperature:          input.Request.Temperature,
	})
	if err != nil {
		return PrepareOutput{Err: err.Error(), ErrorCode: pipeline.ErrorCode(err)}, nil
	}

	a.appendEvent(ctx, input.JobID, input.TaskType, events.EventRouteDecision, "info",
		fmt.Sprintf("routed to %s/%s est $%.6f", decision.Provider, decision.Model, decision.EstimatedCostUSD),
		func(e *events.Event) {
			e.Provider = decision.Provider
			e.Model = decision.Model
			e.CostUSD = decision.EstimatedCostUSD
		})

	return PrepareOutput{
		Decision:     decision,
		SystemPrompt: system,
		UserPrompt:   user,
		Retry:        a.Source.Table().Policy().Retry,
	}, nil
}

// CallProvider makes a single completion attempt and records provider
// health. Domain failures come back in CallOutput so the workflow can branch
// on Retryable without parsing error strings.
func (a *Activities) CallProvider(ctx context.Context, input CallInput) (CallOutput, error) {
	adapter, ok := a.Adapters[input.Provider]
	if !ok {
		err := &catalog.ConfigError{Source: "adapters", Detail: fmt.Sprintf("no adapter registered for provider %q", input.Provider)}
		return CallOutput{Err: err.Error(), ErrorCode: pipeline.ErrorCode(err)}, nil
	}

	if input.Fallback {
		a.appendEvent(ctx, input.JobID, input.TaskType, events.EventFallbackAttempt, "warn",
			fmt.Sprintf("falling back to %s/%s", input.Provider, input.Model),
			func(e *events.Event) {
				e.Provider = input.Provider
				e.Model = input.Model
			})
	} else if input.Attempt > 1 {
		a.appendEvent(ctx, input.JobID, input.TaskType, events.EventProviderRetry, "warn",
			fmt.Sprintf("retry %d on %s/%s", input.Attempt, input.Provider, input.Model),
			func(e *events.Event) {
				e.Provider = input.Provider
				e.Model = input.Model
			})
	}

	creq := providers.CompletionRequest{
		Prompt:             input.UserPrompt,
		SystemPrompt:       input.SystemPrompt,
		Temperature:        input.Temperature,
		EstimatedTokensIn:  input.TokensIn,
		EstimatedTokensOut: input.TokensOut,
	}

	start := time.Now()
	activity.RecordHeartbeat(ctx, "calling "+input.Provider)
	completion, err := adapter.Complete(ctx, input.Model, creq)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		if a.Health != nil {
			a.Health.RecordError(input.Provider, err.Error())
		}
		slog.Warn("provider call failed",
			"job_id", input.JobID,
			"provider", input.Provider,
			"model", input.Model,
			"attempt", input.Attempt,
			"error", err,
		)
		return CallOutput{
			LatencyMs: latencyMs,
			Err:       err.Error(),
			ErrorCode: pipeline.ErrorCode(err),
			Retryable: providers.Retryable(err),
		}, nil
	}

	if a.Health != nil {
		a.Health.RecordSuccess(input.Provider, float64(latencyMs))
	}

	return CallOutput{
		Text:      completion.Text,
		TokensIn:  completion.TokensIn,
		TokensOut: completion.TokensOut,
		LatencyMs: latencyMs,
	}, nil
}

// PersistOutcome appends the cost ledger row, flips the job to succeeded and
// records metrics. Returns the ledger price of the winning attempt.
func (a *Activities) PersistOutcome(ctx context.Context, input PersistInput) (PersistOutput, error) {
	costUSD := 0.0
	if row, ok := a.Source.Table().Lookup(input.Provider, input.Model); ok {
		costUSD = routing.CostUSD(input.TokensIn, input.TokensOut, row)
	}

	cost := store.JobCost{
		JobID:     input.JobID,
		Provider:  input.Provider,
		Model:     input.Model,
		TokensIn:  input.TokensIn,
		TokensOut: input.TokensOut,
		CostUSD:   costUSD,
		LatencyMs: input.LatencyMs,
	}
	if err := a.Store.AppendCost(ctx, cost); err != nil {
		slog.Error("cost append failed", "job_id", input.JobID, "error", err)
	}

	if a.Metrics != nil {
		a.Metrics.JobLatency.WithLabelValues(input.Provider, input.Model).Observe(float64(input.LatencyMs))
		a.Metrics.CostUSD.WithLabelValues(input.Provider, input.Model).Add(costUSD)
		a.Metrics.TokensTotal.WithLabelValues(input.Provider, "in").Add(float64(input.TokensIn))
		a.Metrics.TokensTotal.WithLabelValues(input.Provider, "out").Add(float64(input.TokensOut))
		a.Metrics.JobsTotal.WithLabelValues(input.TaskType, input.Provider, "succeeded").Inc()
	}

	if err := a.Store.UpdateJobStatus(ctx, input.JobID, store.StatusSucceeded); err != nil {
		slog.Error("status update failed", "job_id", input.JobID, "error", err)
	}
	a.appendEvent(ctx, input.JobID, input.TaskType, events.EventJobSucceeded, "info",
		fmt.Sprintf("succeeded on %s/%s $%.6f", input.Provider, input.Model, costUSD),
		func(e *events.Event) {
			e.Provider = input.Provider
			e.Model = input.Model
			e.CostUSD = costUSD
			e.LatencyMs = float64(input.LatencyMs)
		})

	return PersistOutput{CostUSD: costUSD}, nil
}

// DispatchIntegration runs the post-success side effect. A dispatch failure
// is reported in the output, never as an activity error.
func (a *Activities) DispatchIntegration(ctx context.Context, input DispatchInput) (DispatchOutput, error) {
	if a.Integrations == nil {
		return DispatchOutput{}, nil
	}
	dres, err := a.Integrations.Dispatch(ctx, integrations.Kind(input.Kind), input.OutputText, input.Options)
	if err != nil {
		a.appendEvent(ctx, input.JobID, "", events.EventIntegrationFailed, "warn", err.Error(), func(e *events.Event) {
			e.Integration = input.Kind
		})
		return DispatchOutput{Err: err.Error()}, nil
	}
	a.appendEvent(ctx, input.JobID, "", events.EventIntegrationOK, "info",
		fmt.Sprintf("integration %s: %s", input.Kind, dres.Status),
		func(e *events.Event) {
			e.Integration = input.Kind
			e.ArtifactURI = dres.ArtifactURI
		})
	return DispatchOutput{
		Status:         dres.Status,
		ArtifactURI:    dres.ArtifactURI,
		OutputOverride: dres.OutputOverride,
	}, nil
}

// FailJob flips the job to failed and records the terminal event.
func (a *Activities) FailJob(ctx context.Context, input FailInput) error {
	if err := a.Store.UpdateJobStatus(ctx, input.JobID, store.StatusFailed); err != nil {
		slog.Error("status update failed", "job_id", input.JobID, "error", err)
	}
	a.appendEvent(ctx, input.JobID, input.TaskType, events.EventJobFailed, "error", input.Err, nil)
	if a.Metrics != nil {
		a.Metrics.JobsTotal.WithLabelValues(input.TaskType, input.Provider, "failed").Inc()
	}
	return nil
}

func (a *Activities) appendEvent(ctx context.Context, jobID, taskType string, typ events.EventType, level, msg string, decorate func(*events.Event)) {
	if err := a.Store.AppendEvent(ctx, store.Event{JobID: jobID, Level: level, Message: msg}); err != nil {
		slog.Error("event append failed", "job_id", jobID, "error", err)
	}
	if a.EventBus == nil {
		return
	}
	e := events.Event{Type: typ, JobID: jobID, TaskType: taskType}
	if decorate != nil {
		decorate(&e)
	}
	a.EventBus.Publish(e)
}
