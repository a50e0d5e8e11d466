package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medrex/medchain/pkg/logger"
)

func TestCORSMiddleware(t *testing.T) {
	service := createTestService(t, nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	corsHandler := service.corsMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	corsHandler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected Access-Control-Allow-Methods header")
	}
	if w.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("Expected Access-Control-Allow-Headers header")
	}

	// preflight through the full router skips authentication
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/records", nil)
	w = httptest.NewRecorder()
	service.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for OPTIONS request, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on preflight response")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	service := createTestService(t, nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	securityHandler := service.securityHeadersMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	securityHandler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'self'",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}

	for header, expectedValue := range expectedHeaders {
		if w.Header().Get(header) != expectedValue {
			t.Errorf("Expected %s header to be '%s', got '%s'", header, expectedValue, w.Header().Get(header))
		}
	}
}

func TestLoggingMiddleware_SetsRequestID(t *testing.T) {
	service := createTestService(t, nil)

	var seen string
	handler := service.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seen != "req-42" {
		t.Errorf("Expected request id 'req-42' in context, got '%s'", seen)
	}
	if w.Header().Get("X-Request-ID") != "req-42" {
		t.Error("Expected X-Request-ID echoed on the response")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen == "" || w.Header().Get("X-Request-ID") != seen {
		t.Error("Expected a generated request id")
	}
}

func TestAuthMiddleware(t *testing.T) {
	service := createTestService(t, nil)

	var caller string
	handler := service.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = callerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	valid, err := service.IssueToken("0xpatient", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCaller string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "0xpatient"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"no token", "Bearer", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer invalid.token", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if caller != tt.wantCaller {
				t.Errorf("Expected caller '%s', got '%s'", tt.wantCaller, caller)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	service := createTestService(t, func(cfg *Config) {
		cfg.RateLimited = true
		cfg.RateLimit = 2
		cfg.RatePeriod = time.Hour
	})

	token, err := service.IssueToken("0xpatient", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		service.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected status 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	service.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// health is outside the limited subrouter
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	service.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected health to bypass the limiter, got %d", w.Code)
	}
}

func TestRateLimitMiddleware_MissingCaller(t *testing.T) {
	service := createTestService(t, func(cfg *Config) {
		cfg.RateLimited = true
		cfg.RateLimit = 10
		cfg.RatePeriod = time.Minute
	})

	handler := service.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestResponseRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	recorder.WriteHeader(http.StatusNotFound)

	if recorder.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, recorder.statusCode)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected underlying writer status %d, got %d", http.StatusNotFound, w.Code)
	}
}
