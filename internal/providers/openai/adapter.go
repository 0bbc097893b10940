// Package openai adapts the OpenAI chat completions API to the uniform
// completion contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pennyroute/pennyroute/internal/providers"
)

const providerName = "openai"

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an OpenAI adapter. The client carries the connect/response
// timeout split.
func New(apiKey, baseURL string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
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

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := providers.DoRequest(ctx, providerName, a.client, a.baseURL+"/v1/chat/completions", payload, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	})
	if err != nil {
		return providers.Completion{}, providers.AuthFromStatus(providerName, err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providers.Completion{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return providers.Completion{}, &providers.UpstreamError{Provider: providerName, StatusCode: http.StatusOK, Body: "no choices in response"}
	}

	c := providers.Completion{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}
	providers.BackfillUsage(&c, req)
	return c, nil
}
