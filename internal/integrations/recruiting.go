package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RecruitingAdapter attaches candidate notes generated from interview
// material or inbound applications.
type RecruitingAdapter struct {
	baseURL string
	client  *http.Client
	tokens  *TokenCache
}

func NewRecruitingAdapter(baseURL string, client *http.Client, tokens *TokenCache) *RecruitingAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &RecruitingAdapter{baseURL: baseURL, client: client, tokens: tokens}
}

func (a *RecruitingAdapter) Run(ctx context.Context, kind Kind, modelOutput string, extra map[string]string) (DispatchResult, error) {
	if kind != KindRecruitingNote {
		return DispatchResult{}, fmt.Errorf("kind %s not handled by recruiting adapter", kind)
	}
	candidateID := extra["candidate_id"]
	if candidateID == "" {
		return DispatchResult{}, fmt.Errorf("candidate_id is required")
	}
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("recruiting token: %w", err)
	}
	body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/candidates/"+candidateID+"/notes", token, map[string]string{
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
