package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiterConfig() *Config {
	return &Config{
		GlobalRPS:       100,
		ClientRPS:       2,
		UnAuthRPS:       1,
		CleanupInterval: time.Minute,
		IdleTimeout:     time.Hour,
		MaxClients:      100,
	}
}

func TestInMemoryRateLimiter_PerClientTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(testLimiterConfig())
	defer func() { _ = limiter.Close() }()

	// Burst defaults to 2 x rate, so four immediate requests pass.
	for i := 0; i < 4; i++ {
		if !limiter.Allow("scheduler") {
			t.Fatalf("request %d denied within burst capacity", i+1)
		}
	}

	if limiter.Allow("scheduler") {
		t.Error("request beyond burst capacity allowed")
	}

	// A different client has its own bucket.
	if !limiter.Allow("dashboard") {
		t.Error("independent client denied")
	}
}

func TestInMemoryRateLimiter_UnauthenticatedTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(testLimiterConfig())
	defer func() { _ = limiter.Close() }()

	// UnAuthRPS 1 gives a burst of 2.
	if !limiter.Allow("") || !limiter.Allow("") {
		t.Fatal("unauthenticated requests denied within burst capacity")
	}

	if limiter.Allow("") {
		t.Error("unauthenticated request beyond burst allowed")
	}
}

func TestInMemoryRateLimiter_GlobalTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testLimiterConfig()
	cfg.GlobalRPS = 1
	cfg.GlobalBurst = 2
	cfg.ClientRPS = 1000

	limiter := NewInMemoryRateLimiter(cfg)
	defer func() { _ = limiter.Close() }()

	if !limiter.Allow("a") || !limiter.Allow("b") {
		t.Fatal("requests denied within global burst")
	}

	// The global bucket is drained even though each client bucket is fresh.
	if limiter.Allow("c") {
		t.Error("request beyond global burst allowed")
	}
}

func TestInMemoryRateLimiter_BurstOverride(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testLimiterConfig()
	cfg.ClientBurst = 1

	limiter := NewInMemoryRateLimiter(cfg)
	defer func() { _ = limiter.Close() }()

	if !limiter.Allow("scheduler") {
		t.Fatal("first request denied")
	}

	if limiter.Allow("scheduler") {
		t.Error("override burst of 1 should deny the second immediate request")
	}
}

func TestInMemoryRateLimiter_CleanupRemovesIdleClients(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testLimiterConfig()
	cfg.IdleTimeout = time.Nanosecond

	limiter := NewInMemoryRateLimiter(cfg)
	defer func() { _ = limiter.Close() }()

	limiter.Allow("scheduler")
	time.Sleep(time.Millisecond)

	limiter.cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()

	if len(limiter.perClient) != 0 {
		t.Errorf("client buckets = %d, want 0 after cleanup", len(limiter.perClient))
	}
}

func TestInMemoryRateLimiter_Close(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(testLimiterConfig())

	if err := limiter.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testLimiterConfig()
	cfg.UnAuthRPS = 1
	cfg.UnAuthBurst = 1

	limiter := NewInMemoryRateLimiter(cfg)
	defer func() { _ = limiter.Close() }()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(limiter, discardLogger())(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/ciudad", nil))

	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/ciudad", nil))

	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", second.Code)
	}

	if ct := second.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want problem+json", ct)
	}
}

func TestRateLimitMiddleware_UsesClientIdentity(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testLimiterConfig()
	cfg.UnAuthRPS = 1
	cfg.UnAuthBurst = 1
	cfg.ClientBurst = 10

	limiter := NewInMemoryRateLimiter(cfg)
	defer func() { _ = limiter.Close() }()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(limiter, discardLogger())(next)

	// Authenticated requests draw from the per-client bucket, not the
	// unauthenticated one.
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/ciudad", nil)
		r = r.WithContext(SetClientContext(r.Context(), ClientContext{Name: "scheduler"}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("authenticated request %d = %d, want 200", i+1, w.Code)
		}
	}
}
