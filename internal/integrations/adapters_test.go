package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func staticTokens(tok string) *TokenCache {
	return NewTokenCache(func(context.Context) (string, time.Duration, error) {
		return tok, time.Hour, nil
	})
}

func TestMailAdapterTriage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/m-1/triage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"label": "urgent"})
	}))
	defer srv.Close()

	a := NewMailAdapter(srv.URL, srv.Client(), staticTokens("secret"))
	res, err := a.Run(context.Background(), KindMailTriage, "urgent: invoice overdue", map[string]string{"message_id": "m-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["verdict"] != "urgent: invoice overdue" {
		t.Errorf("verdict = %q", gotBody["verdict"])
	}
	if res.Status != "labeled" || res.OutputOverride != "urgent" {
		t.Errorf("result = %+v", res)
	}
}

func TestMailAdapterDraftReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/m-2/drafts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"draft_uri": "mail://drafts/9"})
	}))
	defer srv.Close()

	a := NewMailAdapter(srv.URL, srv.Client(), staticTokens("t"))
	res, err := a.Run(context.Background(), KindMailDraftReply, "Dear Sam,", map[string]string{"message_id": "m-2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "drafted" || res.ArtifactURI != "mail://drafts/9" {
		t.Errorf("result = %+v", res)
	}
}

func TestMailAdapterRequiresMessageID(t *testing.T) {
	a := NewMailAdapter("http://unused", nil, staticTokens("t"))
	if _, err := a.Run(context.Background(), KindMailTriage, "x", nil); err == nil {
		t.Fatal("want error for missing message_id")
	}
}

func TestCRMAdapterMailLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/leads" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["source"] != "mail" || body["sender"] != "ana@example.com" {
			t.Errorf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "L-3", "url": "crm://leads/L-3"})
	}))
	defer srv.Close()

	a := NewCRMAdapter(srv.URL, srv.Client(), staticTokens("t"))
	res, err := a.Run(context.Background(), KindCRMMailLead, "prospect asking about pricing", map[string]string{"sender": "ana@example.com"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "lead_created" || res.ArtifactURI != "crm://leads/L-3" {
		t.Errorf("result = %+v", res)
	}
	if res.OutputOverride != "Created lead L-3" {
		t.Errorf("override = %q", res.OutputOverride)
	}
}

func TestCRMAdapterThreadSummaryNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/leads/L-7/notes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "crm://notes/88"})
	}))
	defer srv.Close()

	a := NewCRMAdapter(srv.URL, srv.Client(), staticTokens("t"))
	res, err := a.Run(context.Background(), KindCRMThreadSummary, "summary text", map[string]string{"lead_id": "L-7"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "note_added" || res.ArtifactURI != "crm://notes/88" {
		t.Errorf("result = %+v", res)
	}
}

func TestCRMAdapterNoteRequiresLeadID(t *testing.T) {
	a := NewCRMAdapter("http://unused", nil, staticTokens("t"))
	if _, err := a.Run(context.Background(), KindCRMInboxLead, "x", nil); err == nil {
		t.Fatal("want error for missing lead_id")
	}
}

func TestDocsAdapterCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/documents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "Q3 plan" || body["content"] != "doc body" {
			t.Errorf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "docs://d/15"})
	}))
	defer srv.Close()

	a := NewDocsAdapter(srv.URL, srv.Client(), staticTokens("t"))
	res, err := a.Run(context.Background(), KindDocsCreate, "doc body", map[string]string{"title": "Q3 plan"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "created" || res.ArtifactURI != "docs://d/15" {
		t.Errorf("result = %+v", res)
	}
}

func TestDocsAdapterDefaultsTitle(t *testing.T) {
	var gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTitle = body["title"]
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "docs://d/16"})
	}))
	defer srv.Close()

	a := NewDocsAdapter(srv.URL, srv.Client(), staticTokens("t"))
	if _, err := a.Run(context.Background(), KindDocsCreate, "body", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotTitle != "Untitled" {
		t.Errorf("title = %q", gotTitle)
	}
}

func TestRecruitingAdapterNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/candidates/c-4/notes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "ats://notes/2"})
	}))
	defer srv.Close()

	a := NewRecruitingAdapter(srv.URL, srv.Client(), staticTokens("t"))
	res, err := a.Run(context.Background(), KindRecruitingNote, "strong on systems design", map[string]string{"candidate_id": "c-4"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "note_added" || res.ArtifactURI != "ats://notes/2" {
		t.Errorf("result = %+v", res)
	}
}

func TestAdapterUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "schema mismatch", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewDocsAdapter(srv.URL, srv.Client(), staticTokens("t"))
	if _, err := a.Run(context.Background(), KindDocsCreate, "body", nil); err == nil {
		t.Fatal("want error on 422")
	}
}

func TestAdapterRejectsForeignKind(t *testing.T) {
	a := NewMailAdapter("http://unused", nil, staticTokens("t"))
	if _, err := a.Run(context.Background(), KindDocsCreate, "x", map[string]string{"message_id": "m"}); err == nil {
		t.Fatal("want error for foreign kind")
	}
}

func TestMailAdapterFetchContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/messages/m-9" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sender":  "alice@example.com",
			"subject": "Invoice 42",
			"body":    "Please find attached.",
		})
	}))
	defer srv.Close()

	a := NewMailAdapter(srv.URL, srv.Client(), staticTokens("t"))
	text, err := a.FetchContext(context.Background(), KindMailSummarize, map[string]string{"message_id": "m-9"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := "From: alice@example.com\nSubject: Invoice 42\n\nPlease find attached."
	if text != want {
		t.Errorf("context = %q", text)
	}
}

func TestMailAdapterFetchContextRequiresMessageID(t *testing.T) {
	a := NewMailAdapter("http://unused", nil, staticTokens("t"))
	if _, err := a.FetchContext(context.Background(), KindMailSummarize, nil); err == nil {
		t.Fatal("want error without message_id")
	}
}
