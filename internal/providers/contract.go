// Package providers defines the uniform completion contract every backend
// adapter implements, plus the shared HTTP plumbing and error taxonomy.
package providers

import "context"

// CompletionRequest is the provider-agnostic completion call. EstimatedTokens
// carry the routing estimates so adapters can always report a usage pair even
// when the upstream response omits one.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	EstimatedTokensIn  int
	EstimatedTokensOut int
}

// Completion is the uniform result shape. TokensIn/TokensOut are never zero;
// adapters backfill from the request estimates when usage is missing upstream.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Adapter hides one backend family's request/response shapes behind the
// uniform contract.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, model string, req CompletionRequest) (Completion, error)
}

// BackfillUsage applies the estimator numbers wherever the upstream response
// reported nothing, so cost accounting never sees a zero usage pair.
func BackfillUsage(c *Completion, req CompletionRequest) {
	if c.TokensIn <= 0 {
		c.TokensIn = req.EstimatedTokensIn
	}
	if c.TokensIn <= 0 {
		c.TokensIn = 1
	}
	if c.TokensOut <= 0 {
		c.TokensOut = req.EstimatedTokensOut
	}
	if c.TokensOut <= 0 {
		c.TokensOut = 1
	}
}
