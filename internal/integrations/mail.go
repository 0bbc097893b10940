package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// MailAdapter pushes model output into the mail system: triage labels,
// thread summaries, and reply drafts.
type MailAdapter struct {
	baseURL string
	client  *http.Client
	tokens  *TokenCache
}

func NewMailAdapter(baseURL string, client *http.Client, tokens *TokenCache) *MailAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &MailAdapter{baseURL: baseURL, client: client, tokens: tokens}
}

func (a *MailAdapter) Run(ctx context.Context, kind Kind, modelOutput string, extra map[string]string) (DispatchResult, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("mail token: %w", err)
	}
	messageID := extra["message_id"]
	if messageID == "" {
		return DispatchResult{}, fmt.Errorf("message_id is required")
	}

	switch kind {
	case KindMailTriage:
		body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/messages/"+messageID+"/triage", token, map[string]string{
			"verdict": modelOutput,
		})
		if err != nil {
			return DispatchResult{}, err
		}
		var parsed struct {
			Label string `json:"label"`
		}
		_ = json.Unmarshal(body, &parsed)
		return DispatchResult{
			Status:         "labeled",
			OutputOverride: parsed.Label,
		}, nil

	case KindMailSummarize:
		// Summary is stored on the thread; the model text stays the response.
		if _, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/messages/"+messageID+"/summary", token, map[string]string{
			"summary": modelOutput,
		}); err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Status: "summarized"}, nil

	case KindMailDraftReply:
		body, err := postJSON(ctx, kind, a.client, a.baseURL+"/v1/messages/"+messageID+"/drafts", token, map[string]string{
			"body": modelOutput,
		})
		if err != nil {
			return DispatchResult{}, err
		}
		var parsed struct {
			DraftURI string `json:"draft_uri"`
		}
		_ = json.Unmarshal(body, &parsed)
		return DispatchResult{Status: "drafted", ArtifactURI: parsed.DraftURI}, nil
	}
	return DispatchResult{}, fmt.Errorf("kind %s not handled by mail adapter", kind)
}

// FetchContext pulls the message the job is about so the model sees the
// actual text, not just the caller's prompt.
func (a *MailAdapter) FetchContext(ctx context.Context, kind Kind, extra map[string]string) (string, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("mail token: %w", err)
	}
	messageID := extra["message_id"]
	if messageID == "" {
		return "", fmt.Errorf("message_id is required")
	}

	body, err := getJSON(ctx, kind, a.client, a.baseURL+"/v1/messages/"+messageID, token)
	if err != nil {
		return "", err
	}
	var msg struct {
		Sender  string `json:"sender"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.Sender, msg.Subject, msg.Body), nil
}
