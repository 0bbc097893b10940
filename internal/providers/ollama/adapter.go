// Package ollama adapts a local Ollama inference server to the uniform
// completion contract. Local deployments drift between requested and
// installed model tags, so the adapter reconciles the requested name against
// the installed set instead of failing outright.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/pennyroute/pennyroute/internal/providers"
)

const providerName = "ollama"

// DefaultMatchThreshold is the fuzzy-similarity floor for tag reconciliation.
const DefaultMatchThreshold = 0.6

type Adapter struct {
	baseURL        string
	client         *http.Client
	matchThreshold float64

	mu        sync.Mutex
	tags      []string
	fetchedAt time.Time
	tagTTL    time.Duration
}

// New creates an Ollama adapter. matchThreshold <= 0 selects the default.
func New(baseURL string, client *http.Client, matchThreshold float64) *Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if client == nil {
		client = &http.Client{}
	}
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	return &Adapter{
		baseURL:        baseURL,
		client:         client,
		matchThreshold: matchThreshold,
		tagTTL:         time.Minute,
	}
}

func (a *Adapter) Name() string { return providerName }

// HealthEndpoint is the URL the health prober polls.
func (a *Adapter) HealthEndpoint() string { return a.baseURL + "/api/tags" }

func (a *Adapter) Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error) {
	model = a.ResolveModel(ctx, model)

	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}
	if req.MaxTokens > 0 {
		payload["options"].(map[string]any)["num_predict"] = req.MaxTokens
	}

	body, err := providers.DoRequest(ctx, providerName, a.client, a.baseURL+"/api/generate", payload, nil)
	if err != nil {
		return providers.Completion{}, err
	}

	var parsed struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providers.Completion{}, fmt.Errorf("decode response: %w", err)
	}

	c := providers.Completion{
		Text:      parsed.Response,
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: parsed.EvalCount,
	}
	providers.BackfillUsage(&c, req)
	return c, nil
}

// ResolveModel maps a requested tag onto an installed one: exact match, then
// same base name before the version separator, then fuzzy similarity above
// the threshold, then first installed tag as last resort. If the installed
// set cannot be listed the requested tag passes through unchanged.
func (a *Adapter) ResolveModel(ctx context.Context, requested string) string {
	tags := a.installedTags(ctx)
	if len(tags) == 0 {
		return requested
	}
	for _, t := range tags {
		if t == requested {
			return requested
		}
	}

	base := baseName(requested)
	for _, t := range tags {
		if baseName(t) == base {
			slog.Info("substituting installed model tag",
				slog.String("requested", requested),
				slog.String("installed", t),
				slog.String("match", "base-name"),
			)
			return t
		}
	}

	bestScore := a.matchThreshold
	best := ""
	for _, t := range tags {
		if s := similarity(requested, t); s >= bestScore {
			bestScore = s
			best = t
		}
	}
	if best != "" {
		slog.Info("substituting installed model tag",
			slog.String("requested", requested),
			slog.String("installed", best),
			slog.String("match", "fuzzy"),
		)
		return best
	}

	slog.Warn("requested model not installed, using first available tag",
		slog.String("requested", requested),
		slog.String("installed", tags[0]),
	)
	return tags[0]
}

// Warm issues a minimal generation against the given tag so the model is
// resident before the first real call.
func (a *Adapter) Warm(ctx context.Context, model string) error {
	_, err := a.Complete(ctx, model, providers.CompletionRequest{
		Prompt:    "ok",
		MaxTokens: 1,
	})
	return err
}

func (a *Adapter) installedTags(ctx context.Context) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tags != nil && time.Since(a.fetchedAt) < a.tagTTL {
		return a.tags
	}

	body, err := providers.DoGet(ctx, providerName, a.client, a.baseURL+"/api/tags")
	if err != nil {
		slog.Warn("could not list installed models", slog.String("error", err.Error()))
		return a.tags // possibly stale, better than nothing
	}
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return a.tags
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	a.tags = names
	a.fetchedAt = time.Now()
	return a.tags
}

func baseName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[:i]
	}
	return tag
}

func similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
