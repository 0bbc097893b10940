package integrations

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestTokenCacheReusesUntilExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		calls++
		return fmt.Sprintf("tok-%d", calls), time.Hour, nil
	}, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("call %d: token = %q", i, tok)
		}
	}
	if calls != 1 {
		t.Errorf("refresh called %d times", calls)
	}

	now = now.Add(2 * time.Hour)
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q", tok)
	}
}

func TestTokenCacheRefreshesWithinSkew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		calls++
		return "tok", time.Minute, nil
	}, WithClock(func() time.Time { return now }), WithSkew(30*time.Second))

	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}

	// 40s in, the token is still valid but inside the 30s skew window.
	now = now.Add(40 * time.Second)
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if calls != 2 {
		t.Errorf("refresh called %d times, want 2", calls)
	}
}

func TestTokenCacheRefreshError(t *testing.T) {
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		return "", 0, fmt.Errorf("oauth endpoint down")
	})
	if _, err := c.Token(context.Background()); err == nil {
		t.Fatal("want error")
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	calls := 0
	c := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		calls++
		return fmt.Sprintf("tok-%d", calls), time.Hour, nil
	})
	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	c.Invalidate()
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q", tok)
	}
}
