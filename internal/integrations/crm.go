package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CRMAdapter writes model output into the CRM: lead actions extracted from
// an inbox thread, new leads from mail, and thread summaries as lead notes.
type CRMAdapter struct {
	baseURL string
	client  *http.Client
	tokens  *TokenCache
}

func NewCRMAdapter(baseURL string, client *http.Client, tokens *TokenCache) *CRMAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &CRMAdapter{baseURL: baseURL, client: client, tokens: tokens}
}

func (a *CRMAdapter) Run(ctx context.Context, kind Kind, modelOutput string, extra map[string]string) (DispatchResult, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("crm token: %w", err)
	}

	switch kind {
	case KindCRMMailLead:
		body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/leads", token, map[string]string{
			"source":  "mail",
			"content": modelOutput,
			"sender":  extra["sender"],
		})
		if err != nil {
			return DispatchResult{}, err
		}
		var parsed struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		_ = json.Unmarshal(body, &parsed)
		return DispatchResult{
			Status:         "lead_created",
			ArtifactURI:    parsed.URL,
			OutputOverride: fmt.Sprintf("Created lead %s", parsed.ID),
		}, nil

	case KindCRMInboxLead, KindCRMThreadSummary:
		leadID := extra["lead_id"]
		if leadID == "" {
			return DispatchResult{}, fmt.Errorf("lead_id is required")
		}
		body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/leads/"+leadID+"/notes", token, map[string]string{
			"content": modelOutput,
		})
		if err != nil {
			return DispatchResult{}, err
		}
		var parsed struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(body, &parsed)
		return DispatchResult{Status: "note_added", ArtifactURI: parsed.URL}, nil
	}
	return DispatchResult{}, fmt.Errorf("kind %s not handled by crm adapter", kind)
}
