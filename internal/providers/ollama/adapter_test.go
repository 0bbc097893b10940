package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pennyroute/pennyroute/internal/providers"
)

func newTagServer(t *testing.T, tags []string, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		out := struct {
			Models []m `json:"models"`
		}{}
		for _, tag := range tags {
			out.Models = append(out.Models, m{Name: tag})
		}
		json.NewEncoder(w).Encode(out)
	})
	if generate != nil {
		mux.HandleFunc("/api/generate", generate)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSuccess(t *testing.T) {
	var gotPayload map[string]any
	srv := newTagServer(t, []string{"tinyllama:latest"}, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"response":"local answer","prompt_eval_count":11,"eval_count":5}`))
	})

	a := New(srv.URL, srv.Client(), 0)
	c, err := a.Complete(context.Background(), "tinyllama", providers.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "short",
		MaxTokens:    32,
		Temperature:  0.1,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != "local answer" {
		t.Errorf("Text = %q", c.Text)
	}
	if c.TokensIn != 11 || c.TokensOut != 5 {
		t.Errorf("usage = (%d,%d)", c.TokensIn, c.TokensOut)
	}
	// Requested tag reconciled to the installed one.
	if gotPayload["model"] != "tinyllama:latest" {
		t.Errorf("model = %v, want tinyllama:latest", gotPayload["model"])
	}
	if gotPayload["stream"] != false {
		t.Error("stream must be disabled")
	}
	opts := gotPayload["options"].(map[string]any)
	if opts["num_predict"].(float64) != 32 {
		t.Errorf("num_predict = %v", opts["num_predict"])
	}
}

func TestResolveModelExact(t *testing.T) {
	srv := newTagServer(t, []string{"phi3:mini", "tinyllama:latest"}, nil)
	a := New(srv.URL, srv.Client(), 0)
	if got := a.ResolveModel(context.Background(), "phi3:mini"); got != "phi3:mini" {
		t.Errorf("ResolveModel = %q, want exact match", got)
	}
}

func TestResolveModelBaseName(t *testing.T) {
	srv := newTagServer(t, []string{"phi3:3.8b-mini-128k", "tinyllama:latest"}, nil)
	a := New(srv.URL, srv.Client(), 0)
	if got := a.ResolveModel(context.Background(), "phi3:mini"); got != "phi3:3.8b-mini-128k" {
		t.Errorf("ResolveModel = %q, want base-name match", got)
	}
}

func TestResolveModelFuzzy(t *testing.T) {
	srv := newTagServer(t, []string{"qwen2.5:7b-instruct"}, nil)
	a := New(srv.URL, srv.Client(), 0)
	if got := a.ResolveModel(context.Background(), "qwen2.5:7b-instrct"); got != "qwen2.5:7b-instruct" {
		t.Errorf("ResolveModel = %q, want fuzzy match", got)
	}
}

func TestResolveModelLastResort(t *testing.T) {
	srv := newTagServer(t, []string{"mistral:7b"}, nil)
	a := New(srv.URL, srv.Client(), 0)
	if got := a.ResolveModel(context.Background(), "completely-different"); got != "mistral:7b" {
		t.Errorf("ResolveModel = %q, want first installed tag", got)
	}
}

func TestResolveModelNoTagsPassesThrough(t *testing.T) {
	// No server listening: the tag listing fails and the requested name is kept.
	a := New("http://127.0.0.1:1", &http.Client{}, 0)
	if got := a.ResolveModel(context.Background(), "tinyllama"); got != "tinyllama" {
		t.Errorf("ResolveModel = %q, want requested tag on listing failure", got)
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"abc", "abc", 1, 1},
		{"abc", "xyz", 0, 0.01},
		{"tinyllama", "tinyllama:latest", 0.5, 0.6},
	}
	for _, tc := range cases {
		got := similarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("similarity(%q,%q) = %f, want [%f,%f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestWarm(t *testing.T) {
	called := false
	srv := newTagServer(t, []string{"tinyllama"}, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"response":"ok","prompt_eval_count":1,"eval_count":1}`))
	})
	a := New(srv.URL, srv.Client(), 0)
	if err := a.Warm(context.Background(), "tinyllama"); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if !called {
		t.Error("warm call never reached the server")
	}
}
