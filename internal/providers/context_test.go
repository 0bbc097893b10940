package providers

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-77")
	if got := GetRequestID(ctx); got != "req-77" {
		t.Errorf("GetRequestID() = %q, want req-77", got)
	}
}

func TestRequestIDAbsent(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestRequestIDEmptyIsNotStored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestRequestIDLastWins(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")
	if got := GetRequestID(ctx); got != "second" {
		t.Errorf("GetRequestID() = %q, want second", got)
	}
}
