package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBurstGuard(t *testing.T) {
	bg := NewBurstGuard(1, 2, nil)
	handler := bg.Limit(okHandler)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest("GET", "/api/stats/me", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes[i] = rr.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected burst of 2 then 429, got %v", codes)
	}

	// Another IP has its own bucket
	req := httptest.NewRequest("GET", "/api/stats/me", nil)
	req.RemoteAddr = "192.0.2.2:1000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected a separate bucket per IP, got %d", rr.Code)
	}

	if bg.Tracked() != 2 {
		t.Errorf("Expected 2 tracked IPs, got %d", bg.Tracked())
	}
	if removed := bg.Cleanup(-time.Second); removed != 2 || bg.Tracked() != 0 {
		t.Errorf("Expected cleanup to remove idle IPs, removed %d", removed)
	}
}

func TestBurstGuardDisabled(t *testing.T) {
	handler := NewBurstGuard(0, 0, nil).Limit(okHandler)
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected a zero rate to disable the guard, got %d", rr.Code)
		}
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		enabled  bool
		header   string
		value    string
		expected int
	}{
		{"disabled", "", false, "", "", http.StatusOK},
		{"not configured", "", true, "X-Admin-Key", "anything", http.StatusServiceUnavailable},
		{"missing key", "secret", true, "", "", http.StatusUnauthorized},
		{"wrong key", "secret", true, "X-Admin-Key", "guess", http.StatusForbidden},
		{"header key", "secret", true, "X-Admin-Key", "secret", http.StatusOK},
		{"bearer key", "secret", true, "Authorization", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/admin/analytics", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			NewAdminAuth(tt.apiKey, tt.enabled).Protect(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rr.Code)
			}
		})
	}
}

func TestRequestLoggerAndCORS(t *testing.T) {
	handler := CORS("https://app.airivu.com")(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("Unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.airivu.com" {
		t.Error("Expected CORS origin header")
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/api/generate", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected preflight 204, got %d", rr.Code)
	}
}
