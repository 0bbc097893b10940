package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DocsAdapter creates documents from model output.
type DocsAdapter struct {
	baseURL string
	client  *http.Client
	tokens  *TokenCache
}

func NewDocsAdapter(baseURL string, client *http.Client, tokens *TokenCache) *DocsAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &DocsAdapter{baseURL: baseURL, client: client, tokens: tokens}
}

func (a *DocsAdapter) Run(ctx context.Context, kind Kind, modelOutput string, extra map[string]string) (DispatchResult, error) {
	if kind != KindDocsCreate {
		return DispatchResult{}, fmt.Errorf("kind %s not handled by docs adapter", kind)
	}
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("docs token: %w", err)
	}
	title := extra["title"]
	if title == "" {
		title = "Untitled"
	}
	body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/documents", token, map[string]string{
		"title":   title,
		"content": modelOutput,
	})
	if err != nil {
		return DispatchResult{}, err
	}
	var parsed struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(body, &parsed)
	return DispatchResult{Status: "created", ArtifactURI: parsed.URL}, nil
}
