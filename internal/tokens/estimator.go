// Package tokens estimates token usage for routing cost projections. The
// numbers are planning estimates, not billing-grade accounting.
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// HeuristicTokens approximates token count as one token per four characters,
// never less than one.
func HeuristicTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Estimator computes (tokens_in, tokens_out) per provider family. Providers
// with an exact tokenizer get a precise input count; everything else uses the
// character heuristic.
type Estimator struct {
	enc *tiktoken.Tiktoken // nil when the encoding could not be loaded
}

// NewEstimator builds an Estimator. Tokenizer load failures are logged and
// degrade to the heuristic rather than failing construction.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		slog.Warn("tokenizer unavailable, using heuristic estimates", slog.String("error", err.Error()))
		enc = nil
	}
	return &Estimator{enc: enc}
}

// Estimate returns (tokens_in, tokens_out) for the given prompt. tokens_out
// is the caller's expected output length taken verbatim, floored at one.
func (e *Estimator) Estimate(provider, model, prompt string, expectedOutputTokens int) (int, int) {
	in := HeuristicTokens(prompt)
	if provider == "openai" && e.enc != nil {
		if ids := e.enc.Encode(prompt, nil, nil); len(ids) > 0 {
			in = len(ids)
		}
	}
	out := expectedOutputTokens
	if out < 1 {
		out = 1
	}
	return in, out
}
