package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/pennyroute/pennyroute/internal/pipeline"
)

const (
	activityTimeout = 60 * time.Second
)

// JobWorkflow executes one job as a Temporal workflow, mirroring the stages
// of the direct pipeline: prepare and route, call the chosen model with
// bounded retry and one fallback attempt, persist the outcome, dispatch the
// integration. The retry loop lives in workflow code so an unfinished job
// resumes mid-attempt after a worker crash.
func JobWorkflow(ctx workflow.Context, input JobInput) (pipeline.Result, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the workflow drives its own retry loop
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	res := pipeline.Result{JobID: input.JobID}

	// Step 1: mark running, prefetch, render, route.
	var prep PrepareOutput
	if err := workflow.ExecuteActivity(ctx, (*Activities).PrepareJob, input).Get(ctx, &prep); err != nil {
		return failJob(ctx, input, res, err.Error(), "internal_error")
	}
	if prep.Err != "" {
		return failJob(ctx, input, res, prep.Err, prep.ErrorCode)
	}
	res.Provider = prep.Decision.Provider
	res.Model = prep.Decision.Model
	res.EstimatedCostUSD = prep.Decision.EstimatedCostUSD

	// Step 2: call the primary model with bounded retry. Backoff inside a
	// workflow must be deterministic, so no jitter here.
	callInput := CallInput{
		JobID:        input.JobID,
		TaskType:     input.TaskType,
		Provider:     prep.Decision.Provider,
		Model:        prep.Decision.Model,
		UserPrompt:   prep.UserPrompt,
		SystemPrompt: prep.SystemPrompt,
		Temperature:  prep.Decision.Temperature,
		TokensIn:     prep.Decision.TokensIn,
		TokensOut:    prep.Decision.TokensOut,
	}

	var call CallOutput
	backoff := time.Duration(prep.Retry.InitialBackoffMs) * time.Millisecond
	for attempt := 1; attempt <= prep.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := workflow.Sleep(ctx, backoff); err != nil {
				return failJob(ctx, input, res, err.Error(), "internal_error")
			}
			backoff = time.Duration(float64(backoff) * prep.Retry.Multiplier)
		}

		callInput.Attempt = attempt
		// Zero the output before decoding. Success payloads omit the error
		// fields, and Get would otherwise leave a prior attempt's failure
		// in place.
		call = CallOutput{}
		if err := workflow.ExecuteActivity(ctx, (*Activities).CallProvider, callInput).Get(ctx, &call); err != nil {
			return failJob(ctx, input, res, err.Error(), "internal_error")
		}
		if call.Err == "" || !call.Retryable {
			break
		}
	}

	// Step 3: exactly one attempt on the row's fallback model.
	if call.Err != "" && prep.Decision.FallbackModel != "" && prep.Decision.FallbackModel != prep.Decision.Model {
		callInput.Model = prep.Decision.FallbackModel
		callInput.Attempt = 1
		callInput.Fallback = true
		call = CallOutput{}
		if err := workflow.ExecuteActivity(ctx, (*Activities).CallProvider, callInput).Get(ctx, &call); err != nil {
			return failJob(ctx, input, res, err.Error(), "internal_error")
		}
	}
	if call.Err != "" {
		res.Provider = prep.Decision.Provider
		return failJob(ctx, input, res, call.Err, call.ErrorCode)
	}

	res.Model = callInput.Model
	res.OutputText = call.Text
	res.TokensIn = call.TokensIn
	res.TokensOut = call.TokensOut
	res.LatencyMs = call.LatencyMs

	// Step 4: cost ledger, status flip, metrics.
	var persisted PersistOutput
	persistInput := PersistInput{
		JobID:     input.JobID,
		TaskType:  input.TaskType,
		Provider:  prep.Decision.Provider,
		Model:     callInput.Model,
		TokensIn:  call.TokensIn,
		TokensOut: call.TokensOut,
		LatencyMs: call.LatencyMs,
	}
	if err := workflow.ExecuteActivity(ctx, (*Activities).PersistOutcome, persistInput).Get(ctx, &persisted); err != nil {
		return failJob(ctx, input, res, err.Error(), "internal_error")
	}
	res.Status = "succeeded"
	res.EstimatedCostUSD = persisted.CostUSD

	// Step 5: integration dispatch. Failure is reported alongside the
	// output; the job stays succeeded.
	if input.Request.Integration != "" {
		dispatchInput := DispatchInput{
			JobID:      input.JobID,
			Kind:       string(input.Request.Integration),
			OutputText: res.OutputText,
			Options:    input.Request.Options,
		}
		var dispatched DispatchOutput
		if err := workflow.ExecuteActivity(ctx, (*Activities).DispatchIntegration, dispatchInput).Get(ctx, &dispatched); err != nil {
			res.IntegrationError = err.Error()
		} else if dispatched.Err != "" {
			res.IntegrationError = dispatched.Err
		} else {
			res.IntegrationStatus = dispatched.Status
			res.ArtifactURI = dispatched.ArtifactURI
			if dispatched.OutputOverride != "" {
				res.OutputText = dispatched.OutputOverride
			}
		}
	}

	return res, nil
}

// failJob records the terminal failure and returns the failed result plus a
// typed application error carrying the stable error code.
func failJob(ctx workflow.Context, input JobInput, res pipeline.Result, errMsg, errCode string) (pipeline.Result, error) {
	failInput := FailInput{
		JobID:     input.JobID,
		TaskType:  input.TaskType,
		Provider:  res.Provider,
		Err:       errMsg,
		ErrorCode: errCode,
	}
	_ = workflow.ExecuteActivity(ctx, (*Activities).FailJob, failInput).Get(ctx, nil)

	res.Status = "failed"
	res.Error = errMsg
	res.ErrorCode = errCode
	return res, temporal.NewApplicationError(errMsg, errCode)
}
