package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/fedlogin/internal/auth"
	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/middleware"
	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

type stubAuthenticator struct {
	principal *auth.Principal
	err       error
}

func (s *stubAuthenticator) Authenticate(context.Context, string) (*auth.Principal, error) {
	return s.principal, s.err
}

func newTestRouter(deps *RouterDeps) http.Handler {
	if deps.LoginService == nil {
		deps.LoginService = &mockLoginService{}
	}
	if deps.UserService == nil {
		deps.UserService = &mockUserService{}
	}
	if deps.Authenticator == nil {
		deps.Authenticator = &stubAuthenticator{err: model.NewUnauthorizedError()}
	}
	return NewRouter(deps)
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter(&RouterDeps{
		LoginService: &mockLoginService{
			beginLoginFn: func(context.Context) (string, error) {
				return "https://www.facebook.com/dialog/oauth", nil
			},
		},
	})

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/facebook/login", http.StatusFound},
		{http.MethodGet, "/user-info", http.StatusUnauthorized},
		{http.MethodPost, "/logout", http.StatusUnauthorized},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/unknown", http.StatusNotFound},
		{http.MethodDelete, "/facebook/login", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_ProtectedRoute_ExpiredSession(t *testing.T) {
	router := newTestRouter(&RouterDeps{
		Authenticator: &stubAuthenticator{err: model.NewSessionExpiredError()},
	})

	req := httptest.NewRequest(http.MethodGet, "/user-info", nil)
	req.Header.Set("Authorization", "Bearer old")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Error != "session expired" {
		t.Errorf("error = %q, want %q", body.Error, "session expired")
	}
}

func TestNewRouter_AppliesSecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(&RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be set")
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(&RouterDeps{CORSAllowedOrigin: "https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/user-info", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestNewRouter_LoginRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		LoginRate:       0.01,
		LoginBurst:      1,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})
	defer rl.Stop()

	router := newTestRouter(&RouterDeps{
		RateLimiter: rl,
		LoginService: &mockLoginService{
			beginLoginFn: func(context.Context) (string, error) {
				return "https://www.facebook.com/dialog/oauth", nil
			},
		},
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/facebook/login", nil))
	if first.Code != http.StatusFound {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusFound)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/facebook/login", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}

	// 保護ルートはログインのレート制限の対象外
	other := httptest.NewRecorder()
	router.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/user-info", nil))
	if other.Code != http.StatusUnauthorized {
		t.Errorf("/user-info status = %d, want %d", other.Code, http.StatusUnauthorized)
	}
}

func TestNewRouter_HealthCheckFailure(t *testing.T) {
	router := newTestRouter(&RouterDeps{
		HealthChecks: map[string]HealthCheck{
			"redis":    func(context.Context) error { return errors.New("connection refused") },
			"postgres": func(context.Context) error { return nil },
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Checks["redis"] != "unavailable" {
		t.Errorf("checks = %v", resp.Checks)
	}
	if _, ok := resp.Checks["postgres"]; ok {
		t.Error("healthy dependencies should not be listed")
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.RecordLoginStarted()

	router := newTestRouter(&RouterDeps{Gatherer: reg})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "fedlogin_login_started_total 1") {
		t.Errorf("metrics output should contain login counter:\n%s", body)
	}
}
