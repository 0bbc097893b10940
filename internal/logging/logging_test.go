package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	return slog.New(&RedactingHandler{base: base}), &buf
}

func TestRedactingHandlerRedactsSensitiveKeys(t *testing.T) {
	logger, buf := newBufLogger()

	logger.Info("test",
		slog.String("authorization", "Bearer sk-secret"),
		slog.String("x-api-key", "my-key"),
		slog.String("api_key", "sk-12345"),
		slog.String("db_password", "hunter2"),
		slog.String("access_token", "at-abc123"),
		slog.String("body", `{"prompt":"private"}`),
		slog.String("prompt", "summarize my payroll data"),
		slog.String("output_text", "the payroll summary"),
		slog.String("method", "POST"),
	)

	output := buf.String()
	for _, leaked := range []string{"sk-secret", "my-key", "sk-12345", "hunter2", "at-abc123", "private", "payroll"} {
		if strings.Contains(output, leaked) {
			t.Errorf("sensitive value %q leaked into log output", leaked)
		}
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder")
	}
	if !strings.Contains(output, "POST") {
		t.Error("non-sensitive values should be preserved")
	}
}

func TestRedactingHandlerKeepsTokenCounts(t *testing.T) {
	logger, buf := newBufLogger()

	logger.Info("routed",
		slog.Int("tokens_in", 812),
		slog.Int("tokens_out", 120),
		slog.Int("expected_output_tokens", 256),
		slog.String("dedupe_key", "mail-831"),
	)

	output := buf.String()
	for _, want := range []string{"812", "120", "256", "mail-831"} {
		if !strings.Contains(output, want) {
			t.Errorf("routing field %q was redacted", want)
		}
	}
	if strings.Contains(output, "[REDACTED]") {
		t.Error("token counts must not be redacted")
	}
}

func TestRedactingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := &RedactingHandler{base: slog.NewJSONHandler(&buf, nil)}

	child := handler.WithAttrs([]slog.Attr{
		slog.String("authorization", "Bearer leaked"),
		slog.String("provider", "ollama"),
	})
	slog.New(child).Info("request")

	output := buf.String()
	if strings.Contains(output, "leaked") {
		t.Error("authorization in WithAttrs should be redacted")
	}
	if !strings.Contains(output, "ollama") {
		t.Error("non-sensitive WithAttrs value should be preserved")
	}
}

func TestRedactingHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := &RedactingHandler{base: slog.NewJSONHandler(&buf, nil)}

	slog.New(handler.WithGroup("job")).Info("test", slog.String("task_type", "triage"))

	output := buf.String()
	if !strings.Contains(output, "job") || !strings.Contains(output, "triage") {
		t.Errorf("grouped attribute lost: %s", output)
	}
}

func TestRedactingHandlerEnabled(t *testing.T) {
	base := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := &RedactingHandler{base: base}

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled when level is warn")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestSetLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tc := range tests {
		SetLevel(tc.input)
		if globalLevel.Level() != tc.expected {
			t.Errorf("SetLevel(%q): got %v, want %v", tc.input, globalLevel.Level(), tc.expected)
		}
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	if Setup("info") == nil {
		t.Error("expected non-nil logger")
	}
}

func TestRequestLoggerLogsRequestFields(t *testing.T) {
	logger, buf := newBufLogger()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := httptest.NewServer(RequestLogger(logger)(inner))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL+"/v1/jobs/abc", nil)
	req.Header.Set("X-Request-ID", "req-test-12345")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v\nOutput: %s", err, buf.String())
	}
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/v1/jobs/abc" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if status, _ := entry["status"].(float64); int(status) != 200 {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["request_id"] != "req-test-12345" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
}
