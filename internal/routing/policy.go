// Package routing implements deterministic cost-first model selection over
// the price catalog. Same catalog, same request, same decision.
package routing

import (
	"fmt"

	"github.com/pennyroute/pennyroute/internal/catalog"
)

// TokenEstimator produces (tokens_in, tokens_out) planning estimates.
// Defined here to avoid an import cycle with the tokens package.
type TokenEstimator interface {
	Estimate(provider, model, prompt string, expectedOutputTokens int) (int, int)
}

// Request carries the caller's routing constraints for one job attempt.
type Request struct {
	Prompt               string
	ExpectedOutputTokens int

	// QualityFloor is the minimum baseline_quality a row must carry. It is a
	// hard floor, never traded for cost.
	QualityFloor int

	// CostCeilingUSD caps estimated spend. Zero or negative means uncapped.
	CostCeilingUSD float64

	// ProviderHint and ModelHint are hard filters, not preferences.
	ProviderHint string
	ModelHint    string

	SystemPrompt string
	Temperature  float64
}

// Decision is the selected model plus the estimates it was selected on.
// It is consumed immediately by the execution pipeline and never persisted
// as-is; only its cost and token fields flow into the cost ledger.
type Decision struct {
	Provider         string
	Model            string
	FallbackModel    string
	EstimatedCostUSD float64
	TokensIn         int
	TokensOut        int
	SystemPrompt     string
	Temperature      float64
}

// NoViableModelError reports an empty candidate set after filtering. It is a
// user-correctable condition, not a system fault.
type NoViableModelError struct {
	QualityFloor   int
	CostCeilingUSD float64
	ProviderHint   string
	ModelHint      string
	Considered     int
}

func (e *NoViableModelError) Error() string {
	msg := fmt.Sprintf("no viable model among %d catalog rows for quality_floor=%d", e.Considered, e.QualityFloor)
	if e.CostCeilingUSD > 0 {
		msg += fmt.Sprintf(" cost_ceiling_usd=%.6f", e.CostCeilingUSD)
	}
	if e.ProviderHint != "" {
		msg += fmt.Sprintf(" provider=%s", e.ProviderHint)
	}
	if e.ModelHint != "" {
		msg += fmt.Sprintf(" model=%s", e.ModelHint)
	}
	return msg + "; relax quality_floor or raise cost_ceiling_usd"
}

// CostUSD prices a token pair against a catalog row.
func CostUSD(tokensIn, tokensOut int, row catalog.ModelRow) float64 {
	return (float64(tokensIn)/1000.0)*row.PriceInPer1K + (float64(tokensOut)/1000.0)*row.PriceOutPer1K
}

// Policy selects the cheapest catalog row that satisfies all hard
// constraints. Greedy and single-pass: among everything that satisfies the
// caller's floors and caps, spend the least.
type Policy struct {
	source *catalog.Source
	est    TokenEstimator
}

func NewPolicy(source *catalog.Source, est TokenEstimator) *Policy {
	return &Policy{source: source, est: est}
}

// Choose filters the catalog by hints, quality floor, context limits and
// budget, then picks the minimum-cost survivor. Ties break by catalog order,
// first listed wins.
func (p *Policy) Choose(req Request) (Decision, error) {
	rows := p.source.Table().Rows()

	var (
		best     *catalog.ModelRow
		bestCost float64
		bestIn   int
		bestOut  int
	)
	for i := range rows {
		row := rows[i]
		if req.ProviderHint != "" && row.Provider != req.ProviderHint {
			continue
		}
		if req.ModelHint != "" && row.Model != req.ModelHint {
			continue
		}
		if row.BaselineQuality < req.QualityFloor {
			continue
		}
		tokensIn, tokensOut := p.est.Estimate(row.Provider, row.Model, req.Prompt, req.ExpectedOutputTokens)
		if tokensIn > row.MaxInputTokens || tokensOut > row.MaxOutputTokens {
			continue
		}
		cost := CostUSD(tokensIn, tokensOut, row)
		if req.CostCeilingUSD > 0 && cost > req.CostCeilingUSD {
			continue
		}
		if best == nil || cost < bestCost {
			best = &rows[i]
			bestCost = cost
			bestIn = tokensIn
			bestOut = tokensOut
		}
	}
	if best == nil {
		return Decision{}, &NoViableModelError{
			QualityFloor:   req.QualityFloor,
			CostCeilingUSD: req.CostCeilingUSD,
			ProviderHint:   req.ProviderHint,
			ModelHint:      req.ModelHint,
			Considered:     len(rows),
		}
	}
	return Decision{
		Provider:         best.Provider,
		Model:            best.Model,
		FallbackModel:    best.FallbackModel,
		EstimatedCostUSD: bestCost,
		TokensIn:         bestIn,
		TokensOut:        bestOut,
		SystemPrompt:     req.SystemPrompt,
		Temperature:      req.Temperature,
	}, nil
}
