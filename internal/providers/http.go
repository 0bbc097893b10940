package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NewHTTPClient builds a client with the connect and full-response budgets
// split. Local inference connects fast but can be very slow to the first
// token, so the two are tuned independently.
func NewHTTPClient(connectTimeout, responseTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: responseTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
}

// DoRequest sends a POST with a JSON payload and returns the response body
// bytes. It handles marshaling, headers, request-ID forwarding, trace
// propagation, and converts failures into the provider error taxonomy.
func DoRequest(ctx context.Context, provider string, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	ctx, span := otel.Tracer("pennyroute.providers").Start(ctx, "provider.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if reqID := GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	// Propagate W3C trace context (traceparent/tracestate) to the provider.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		werr := wrapTransport(provider, err)
		span.RecordError(werr)
		span.SetStatus(codes.Error, "request failed")
		return nil, werr
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		werr := wrapTransport(provider, err)
		span.RecordError(werr)
		span.SetStatus(codes.Error, "read response failed")
		return nil, werr
	}

	if resp.StatusCode != http.StatusOK {
		ue := &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
		ue.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(ue)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, ue
	}

	span.SetStatus(codes.Ok, "")
	return body, nil
}

// DoGet fetches a URL and returns the body bytes, with the same error
// conversion as DoRequest. Used for lightweight listing endpoints.
func DoGet(ctx context.Context, provider string, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapTransport(provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTransport(provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		ue := &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
		ue.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, ue
	}
	return body, nil
}
