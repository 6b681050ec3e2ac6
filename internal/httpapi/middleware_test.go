package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"authserver.org/internal/obs"
)

func TestRequestIDAndLogging(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLogger(zerolog.New(&buf))
	defer restore()

	var seen string
	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req-123" || rr.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"level", "message", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["message"] != "request_complete" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rr.Header().Get(requestIDHeader)) != 26 {
		t.Fatalf("expected generated ULID request id, got %q", rr.Header().Get(requestIDHeader))
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	l := newRateLimiter(1, 2)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if ok, _ := l.reserve("10.0.0.1", now); !ok {
			t.Fatalf("request %d should be within burst", i)
		}
	}
	ok, wait := l.reserve("10.0.0.1", now)
	if ok || wait != time.Second {
		t.Fatalf("expected limit with 1s wait, got ok=%v wait=%s", ok, wait)
	}
	if ok, _ := l.reserve("10.0.0.2", now); !ok {
		t.Fatal("other client should have its own bucket")
	}
	if ok, _ := l.reserve("10.0.0.1", now.Add(time.Second)); !ok {
		t.Fatal("bucket should refill after one interval")
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	l := newRateLimiter(1, 1)
	now := time.Now()
	l.reserve("a", now)
	l.reserve("b", now.Add(10*time.Minute))
	if _, ok := l.buckets["a"]; ok {
		t.Fatal("idle bucket should have been swept")
	}
	if len(l.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(l.buckets))
	}
}

func TestClientIPIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := proxyTrust(nil).clientIP(req); got != "192.0.2.1" {
		t.Fatalf("clientIP=%q, want peer address", got)
	}
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("clientIP without middleware=%q", got)
	}
}

func TestClientIPBehindTrustedProxies(t *testing.T) {
	trust := proxyTrust{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name string
		xff  string
		want string
	}{
		{"nearest untrusted hop wins", "198.51.100.9, 203.0.113.7, 10.0.0.4", "203.0.113.7"},
		{"no header", "", "10.0.0.5"},
		{"only proxies", "10.1.1.1, 10.0.0.4", "10.0.0.5"},
		{"garbage hop stops the walk", "203.0.113.7, nonsense", "10.0.0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.5:80"
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := trust.clientIP(req); got != tc.want {
				t.Fatalf("clientIP=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimiterNotBypassedByRotatingForwardedFor(t *testing.T) {
	l := newRateLimiter(1, 1)
	handler := proxyTrust(nil).Middleware(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/tokens/auth", nil)
		req.RemoteAddr = "192.0.2.1:4321"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusNoContent {
			allowed++
		}
	}
	if allowed != 1 {
		t.Fatalf("allowed %d of 50 requests with burst 1", allowed)
	}
}

func TestRateLimiterKeysOnForwardedClientBehindProxy(t *testing.T) {
	l := newRateLimiter(1, 1)
	trust := proxyTrust{netip.MustParsePrefix("192.0.2.0/24")}
	handler := trust.Middleware(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/tokens/auth", nil)
		req.RemoteAddr = "192.0.2.1:4321"
		req.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("203.0.113.7"); code != http.StatusNoContent {
		t.Fatalf("first request from client: %d", code)
	}
	if code := send("203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same client: %d", code)
	}
	if code := send("203.0.113.8"); code != http.StatusNoContent {
		t.Fatalf("other client behind the same proxy: %d", code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
}
