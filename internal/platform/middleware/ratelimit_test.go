package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func requestFrom(e *echo.Echo, ip string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oasis/analyses", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		c, rec := requestFrom(e, "192.0.2.1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(4-i) {
			t.Errorf("request %d: expected remaining %d, got %s", i+1, 4-i, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		c, _ := requestFrom(e, "192.0.2.1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	c, rec := requestFrom(e, "192.0.2.1")
	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	e := echo.New()
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})

	c1, _ := requestFrom(e, "192.0.2.1")
	if err := handler(c1); err != nil {
		t.Fatalf("client a first request: %v", err)
	}
	c2, _ := requestFrom(e, "192.0.2.1")
	if err := handler(c2); err == nil {
		t.Fatal("client a second request: expected rate limit error")
	}
	c3, _ := requestFrom(e, "198.51.100.7")
	if err := handler(c3); err != nil {
		t.Fatalf("client b first request: %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 10 || cfg.BurstSize != 20 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.IdleTTL <= 0 {
		t.Error("expected idle buckets to be evicted by default")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(2, 1, now)
	if ok, _ := b.allow(now); !ok {
		t.Fatal("expected first token")
	}
	if ok, _ := b.allow(now); ok {
		t.Fatal("expected bucket to be empty")
	}
	if ok, _ := b.allow(now.Add(600 * time.Millisecond)); !ok {
		t.Error("expected a token after refill")
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	now := time.Now()
	b := newTokenBucket(0, 1, now)
	b.allow(now)
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRateLimiterStore_ReusesBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	now := time.Now()

	b1 := store.getBucket("192.0.2.1", now)
	if b1 != store.getBucket("192.0.2.1", now) {
		t.Error("expected same bucket instance for same key")
	}
	if b1 == store.getBucket("192.0.2.2", now) {
		t.Error("expected different bucket for different key")
	}
}

func TestRateLimiterStore_EvictsIdleBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5, IdleTTL: time.Minute})
	start := store.lastSweep

	store.getBucket("192.0.2.1", start)
	store.getBucket("192.0.2.2", start.Add(30*time.Second))
	if store.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", store.size())
	}

	// A new client after the TTL triggers a sweep of idle clients.
	store.getBucket("192.0.2.3", start.Add(2*time.Minute))
	if store.size() != 1 {
		t.Errorf("expected idle buckets evicted, got %d", store.size())
	}
}
