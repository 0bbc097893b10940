package temporal

import (
	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/routing"
)

// JobInput is the input for the JobWorkflow.
type JobInput struct {
	JobID    string           `json:"job_id"`
	UserID   string           `json:"user_id"`
	TaskType string           `json:"task_type"`
	Request  pipeline.Request `json:"request"`
}

// PrepareOutput is the output of the PrepareJob activity: the rendered
// prompt pair, the routing decision, and the retry tuning the workflow
// drives the call loop with. Err/ErrorCode carry domain failures across the
// activity boundary so the workflow can still read them.
type PrepareOutput struct {
	Decision     routing.Decision    `json:"decision"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	UserPrompt   string              `json:"user_prompt"`
	Retry        catalog.RetryPolicy `json:"retry"`
	Err          string              `json:"err,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
}

// CallInput is the input for one CallProvider attempt.
type CallInput struct {
	JobID        string  `json:"job_id"`
	TaskType     string  `json:"task_type"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	UserPrompt   string  `json:"user_prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`

	// Attempt is 1-based on the primary model. Fallback marks the single
	// post-retry attempt on the row's fallback model.
	Attempt  int  `json:"attempt"`
	Fallback bool `json:"fallback,omitempty"`
}

// CallOutput is the output of the CallProvider activity. A failed call
// returns a populated Err instead of an activity error so the workflow can
// branch on Retryable deterministically.
type CallOutput struct {
	Text      string `json:"text,omitempty"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	LatencyMs int64  `json:"latency_ms"`
	Err       string `json:"err,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// PersistInput is the input for the PersistOutcome activity.
type PersistInput struct {
	JobID     string `json:"job_id"`
	TaskType  string `json:"task_type"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	LatencyMs int64  `json:"latency_ms"`
}

// PersistOutput carries the ledger price of the winning attempt.
type PersistOutput struct {
	CostUSD float64 `json:"cost_usd"`
}

// DispatchInput is the input for the DispatchIntegration activity.
type DispatchInput struct {
	JobID      string            `json:"job_id"`
	Kind       string            `json:"kind"`
	OutputText string            `json:"output_text"`
	Options    map[string]string `json:"options,omitempty"`
}

// DispatchOutput is the output of the DispatchIntegration activity. Err is a
// reported-alongside failure; it never affects the job status.
type DispatchOutput struct {
	Status         string `json:"status,omitempty"`
	ArtifactURI    string `json:"artifact_uri,omitempty"`
	OutputOverride string `json:"output_override,omitempty"`
	Err            string `json:"err,omitempty"`
}

// FailInput is the input for the FailJob activity.
type FailInput struct {
	JobID     string `json:"job_id"`
	TaskType  string `json:"task_type"`
	Provider  string `json:"provider,omitempty"`
	Err       string `json:"err"`
	ErrorCode string `json:"error_code"`
}
