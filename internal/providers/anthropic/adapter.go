// Package anthropic adapts the Anthropic messages API to the uniform
// completion contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pennyroute/pennyroute/internal/providers"
)

const (
	providerName = "anthropic"
	apiVersion   = "2023-06-01"
)

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *Adapter) Name() string { return providerName }

// HealthEndpoint is the URL the health prober polls.
func (a *Adapter) HealthEndpoint() string { return a.baseURL + "/v1/models" }

func (a *Adapter) Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error) {
	if a.apiKey == "" {
		return providers.Completion{}, &providers.AuthenticationError{Provider: providerName, Reason: "no API key configured"}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // the messages API requires max_tokens
	}
	payload := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}

	body, err := providers.DoRequest(ctx, providerName, a.client, a.baseURL+"/v1/messages", payload, map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	})
	if err != nil {
		return providers.Completion{}, providers.AuthFromStatus(providerName, err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providers.Completion{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return providers.Completion{}, &providers.UpstreamError{Provider: providerName, StatusCode: http.StatusOK, Body: "empty content in response"}
	}

	c := providers.Completion{
		Text:      parsed.Content[0].Text,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
	}
	providers.BackfillUsage(&c, req)
	return c, nil
}
