package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fourcash/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	ta := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	ta.api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestCORSAllowsConfiguredOriginOnly(t *testing.T) {
	ta := newTestAPI(t)

	for origin, want := range map[string]string{
		"https://pos.example.com":  "https://pos.example.com",
		"https://evil.example.com": "",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/bills", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		res := httptest.NewRecorder()
		ta.api.Handler().ServeHTTP(res, req)

		if got := res.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: expected allow-origin %q, got %q", origin, want, got)
		}
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	ta := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{PhoneNumber: "0900000001", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		ta.api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	ta := newTestAPI(t)

	for _, tc := range []struct{ method, path, auth string }{
		{http.MethodPost, "/api/v1/bills", ""},
		{http.MethodPost, "/api/v1/cash-transactions", "Basic abc"},
		{http.MethodGet, "/api/v1/reports/daily", "Bearer not-a-jwt"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		res := httptest.NewRecorder()
		ta.api.Handler().ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s expected 401, got %d", tc.method, tc.path, res.Code)
		}
	}
}

func TestUnknownFieldsAndWrongMethodRejected(t *testing.T) {
	ta := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"x"}`))
	res := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/login", nil)
	res = httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	ta := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"phoneNumber":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	ta.api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	res := httptest.NewRecorder()
	writeAppError(res, newTestAPI(t).api.log, fmt.Errorf("pq: relation \"secret_table\" does not exist"))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "secret_table") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}
