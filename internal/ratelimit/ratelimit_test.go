package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBurstThenDeny(t *testing.T) {
	l := New(5, 5, time.Second)
	defer l.Stop()

	for i := range 5 {
		if !l.allow("caller") {
			t.Fatalf("request %d within burst was denied", i+1)
		}
	}
	if l.allow("caller") {
		t.Fatal("request past burst was allowed")
	}
}

func TestTokensRefillAfterInterval(t *testing.T) {
	l := New(10, 10, 50*time.Millisecond)
	defer l.Stop()

	for range 10 {
		l.allow("caller")
	}
	if l.allow("caller") {
		t.Fatal("allowed with empty bucket")
	}

	time.Sleep(60 * time.Millisecond)

	if !l.allow("caller") {
		t.Fatal("denied after refill interval elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Second)
	defer l.Stop()

	if !l.allow("10.0.0.1") {
		t.Fatal("first caller denied")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("exhausted caller allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("fresh caller denied; buckets are not independent")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	l := New(2, 2, time.Second)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := range 2 {
		if rr := send(); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i+1, rr.Code)
		}
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit request: got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}
}

func TestEvictionDropsColdestKey(t *testing.T) {
	l := New(10, 10, time.Hour, WithMaxKeys(3))
	defer l.Stop()

	l.allow("A")
	l.allow("B")
	l.allow("C")

	// Touch A so B becomes the coldest bucket, then overflow with D.
	l.allow("A")
	l.allow("D")

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buckets) != 3 {
		t.Fatalf("got %d buckets after eviction, want 3", len(l.buckets))
	}
	if _, ok := l.buckets["B"]; ok {
		t.Error("coldest bucket B survived eviction")
	}
	for _, key := range []string{"A", "C", "D"} {
		if _, ok := l.buckets[key]; !ok {
			t.Errorf("bucket %s was evicted, want kept", key)
		}
	}
}

func TestMiddlewareCustomKeyFunc(t *testing.T) {
	l := New(1, 1, time.Second, WithKeyFunc(func(r *http.Request) string {
		return r.Header.Get("X-User-ID")
	}))
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/v1/jobs", nil)
		req.Header.Set("X-User-ID", user)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("u1"); code != http.StatusOK {
		t.Fatalf("first u1 request: %d", code)
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Fatalf("second u1 request: %d", code)
	}
	if code := send("u2"); code != http.StatusOK {
		t.Fatalf("first u2 request: %d", code)
	}
}
