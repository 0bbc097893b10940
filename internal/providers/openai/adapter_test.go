package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pennyroute/pennyroute/internal/providers"
)

func TestCompleteSuccess(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{
			"choices":[{"message":{"content":"hello back"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":7}
		}`))
	}))
	defer srv.Close()

	a := New("test-key", srv.URL, srv.Client())
	c, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{
		Prompt:       "hello",
		SystemPrompt: "be brief",
		MaxTokens:    64,
		Temperature:  0.2,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != "hello back" {
		t.Errorf("Text = %q", c.Text)
	}
	if c.TokensIn != 12 || c.TokensOut != 7 {
		t.Errorf("usage = (%d,%d), want (12,7)", c.TokensIn, c.TokensOut)
	}
	if gotPayload["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", gotPayload["model"])
	}
	msgs := gotPayload["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system+user", len(msgs))
	}
	if msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("first message role = %v", msgs[0].(map[string]any)["role"])
	}
}

func TestCompleteMissingKey(t *testing.T) {
	a := New("", "http://unused", nil)
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	var ae *providers.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestCompleteRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := New("bad-key", srv.URL, srv.Client())
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	var ae *providers.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthenticationError for 401, got %v", err)
	}
}

func TestCompleteBackfillsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()

	a := New("k", srv.URL, srv.Client())
	c, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{
		Prompt:             "hi",
		EstimatedTokensIn:  20,
		EstimatedTokensOut: 30,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.TokensIn != 20 || c.TokensOut != 30 {
		t.Errorf("usage = (%d,%d), want estimator backfill (20,30)", c.TokensIn, c.TokensOut)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	a := New("k", srv.URL, srv.Client())
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	var ue *providers.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ue.Transient() {
		t.Error("500 must classify transient")
	}
}
