package mw

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func limited(cfg RateLimitConfig) http.Handler {
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h := limited(RateLimitConfig{Burst: 2, RefillPerMin: 60, Now: clock.Now})

	for i := 0; i < 2; i++ {
		if rec := hit(h, "1.2.3.4:1000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}

	rec := hit(h, "1.2.3.4:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	// other clients have their own bucket
	if rec := hit(h, "5.6.7.8:1000"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for another IP, got %d", rec.Code)
	}

	clock.Advance(time.Second)
	if rec := hit(h, "1.2.3.4:1000"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 after refill, got %d", rec.Code)
	}
}

func TestRateLimit_Headers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h := limited(RateLimitConfig{Burst: 3, RefillPerMin: 1, Now: clock.Now})

	rec := hit(h, "1.2.3.4:1000")
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Errorf("expected limit 3, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("expected remaining 2, got %q", got)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := limited(RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if rec := hit(h, "1.2.3.4:1000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d limited with Burst=0", i)
		}
	}
}

func TestRateLimit_SweepsIdleBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLimiter(RateLimitConfig{Burst: 1, RefillPerMin: 1, IdleTTL: time.Minute, SweepInterval: time.Minute, Now: clock.Now})

	l.take("a", clock.Now())
	clock.Advance(2 * time.Minute)
	l.take("b", clock.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket a was not swept")
	}
	if _, ok := l.buckets["b"]; !ok {
		t.Error("bucket b missing")
	}
}

func TestRateLimit_TrustProxy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h := limited(RateLimitConfig{Burst: 1, RefillPerMin: 1, TrustProxy: true, Now: clock.Now})

	req := func(xff string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/query", nil)
		r.RemoteAddr = "127.0.0.1:9000"
		r.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	if code := req("9.9.9.9"); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := req("8.8.8.8, 127.0.0.1"); code != http.StatusNoContent {
		t.Errorf("forwarded clients should not share a bucket, got %d", code)
	}
	if code := req("9.9.9.9"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
}
