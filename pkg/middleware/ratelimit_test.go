package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idlink/pkg/observability"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	ctx := context.Background()

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "ip:1.2.3.4"); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}
}

func TestRateLimiter_TokenRefill(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
	limiter := NewRateLimiter(config)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		limiter.Allow(ctx, "k")
	}
	if ok, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatal("expected bucket to be empty")
	}

	now = now.Add(2 * time.Second)
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Error("expected refill after 2 seconds")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow(context.Background(), "old")
	now = now.Add(3 * time.Second)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if _, ok := limiter.buckets["old"]; ok {
		t.Error("expected idle bucket to be removed")
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour}
	limiter := NewRateLimiter(config)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(context.Background(), "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed %d, want 50", allowed)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "", "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", "", "198.51.100.4", "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", "", "", "192.0.2.1:5555", "192.0.2.1"},
		{"remote addr without port", "", "", "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/identity/anonymous", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	client, mr := newTestRedis(t)
	config := &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	limiter := NewDistributedRateLimiter(client, config, "ratelimit:anon-create")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "ip:1.2.3.4")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := limiter.Allow(ctx, "ip:1.2.3.4"); ok {
		t.Error("expected fourth request to be limited")
	}
	if ok, _ := limiter.Allow(ctx, "ip:5.6.7.8"); !ok {
		t.Error("expected other IP to be allowed")
	}

	ttl, err := limiter.TTL(ctx, "ip:1.2.3.4")
	if err != nil || ttl <= 0 {
		t.Errorf("expected positive TTL, got %v (%v)", ttl, err)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := limiter.Allow(ctx, "ip:1.2.3.4"); !ok {
		t.Error("expected window to reset")
	}

	if err := limiter.Reset(ctx, "ip:1.2.3.4"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("ratelimit:anon-create:ip:1.2.3.4") {
		t.Error("expected key to be deleted")
	}
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "")
	logger := observability.NewLogger(observability.InfoLevel, &bytes.Buffer{})

	handler := NewRateLimitMiddleware(limiter, logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/identity/anonymous", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("unexpected limit header %q", w.Header().Get("X-RateLimit-Limit"))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("unexpected Retry-After %q", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "rate limit exceeded") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	client, mr := newTestRedis(t)
	mr.Close()

	var logs bytes.Buffer
	limiter := NewDistributedRateLimiter(client, nil, "")
	handler := NewRateLimitMiddleware(limiter, observability.NewLogger(observability.InfoLevel, &logs)).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/identity/anonymous", nil))
	if w.Code != http.StatusCreated {
		t.Errorf("expected request to pass when redis is down, got %d", w.Code)
	}
	if !strings.Contains(logs.String(), "Rate limiter unavailable") {
		t.Errorf("expected warning, got %s", logs.String())
	}
}
