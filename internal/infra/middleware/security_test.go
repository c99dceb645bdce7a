package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/permissions", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_HSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func do(h http.Handler, remote string, headers map[string]string) int {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RequestsPerSecond: 0.01, Burst: 2})(okHandler)

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1234", nil))
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1234", nil))
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:1234", nil))
	// Separate bucket per client.
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.2:1234", nil))
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	h := RateLimit(context.Background(), RateLimitConfig{})(okHandler)
	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", nil))
	}
}

func TestClientIP(t *testing.T) {
	trusted := []string{"10.0.0.254"}
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		proxies []string
		want    string
	}{
		{"direct", "192.168.1.5:555", nil, nil, "192.168.1.5"},
		{"ipv6", "[::1]:555", nil, nil, "::1"},
		{"spoofed xff ignored", "192.168.1.5:555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, trusted, "192.168.1.5"},
		{"trusted xff", "10.0.0.254:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.254"}, trusted, "1.2.3.4"},
		{"trusted real ip", "10.0.0.254:80", map[string]string{"X-Real-IP": "5.6.7.8"}, trusted, "5.6.7.8"},
		{"trusted no headers", "10.0.0.254:80", nil, trusted, "10.0.0.254"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.proxies))
		})
	}
}
