package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/selahapp/identity/internal/auth"
	"github.com/selahapp/identity/internal/middleware"
	"github.com/selahapp/identity/internal/model"
	"github.com/selahapp/identity/internal/token"
)

// nilSessionStore はセッションを解決しないSessionStore。
type nilSessionStore struct{}

func (nilSessionStore) FindByID(context.Context, string) (*model.Session, error) { return nil, nil }
func (nilSessionStore) Touch(context.Context, string, time.Time) error           { return nil }

// nilUserFinder はユーザーを解決しないUserFinder。
type nilUserFinder struct{}

func (nilUserFinder) FindByID(context.Context, int64) (*model.User, error) { return nil, nil }

// staticTokenVerifier は固定のクレームを返すTokenVerifier。
type staticTokenVerifier struct {
	claims *token.Claims
}

func (v *staticTokenVerifier) Verify(string) (*token.Claims, error) {
	return v.claims, nil
}

func adminClaims() *token.Claims {
	return &token.Claims{
		Username: "admin",
		Admin:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "99",
		},
	}
}

func testRouter(t *testing.T, verifier middleware.TokenVerifier) http.Handler {
	t.Helper()

	rl := middleware.NewIPRateLimiter(middleware.DefaultIPRateLimiterConfig(), nil)
	t.Cleanup(rl.Stop)

	authService := &mockAuthService{
		loginFn: func(_ context.Context, _, _ string, _ auth.RequestMeta) (*auth.LoginResult, error) {
			return &auth.LoginResult{User: testUser(), BearerToken: "jwt-token"}, nil
		},
	}

	return NewRouter(&RouterDeps{
		IdentityConfig: middleware.IdentityConfig{
			Sessions:   nilSessionStore{},
			Users:      nilUserFinder{},
			Tokens:     verifier,
			SessionTTL: 30 * 24 * time.Hour,
		},
		RateLimiter:          rl,
		CORSAllowedOrigin:    "https://app.example.com",
		CSRFConfig:           middleware.CSRFConfig{},
		AuthService:          authService,
		VerificationService:  &mockVerificationService{},
		MagicService:         &mockMagicService{},
		PasswordResetService: &mockResetService{},
		AuthConfig:           AuthHandlerConfig{SessionMaxAge: 30 * 24 * 60 * 60},
		AdminService:         &mockAdminService{},
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
}

// withCSRF はダブルサブミットCookieとヘッダーを設定する。
func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-csrf-token"})
	req.Header.Set("X-CSRF-Token", "test-csrf-token")
	return req
}

func TestRouter_Health(t *testing.T) {
	router := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestRouter_Login_RoutesToHandler(t *testing.T) {
	router := testRouter(t, nil)

	body := `{"identifier": "alice", "password": "password123"}`
	req := withCSRF(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	req.RemoteAddr = "192.0.2.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d: %s", w.Result().StatusCode, http.StatusOK, w.Body.String())
	}
}

func TestRouter_Post_WithoutCSRFToken_Returns403(t *testing.T) {
	router := testRouter(t, nil)

	body := `{"identifier": "alice", "password": "password123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestRouter_BearerPost_SkipsCSRF(t *testing.T) {
	router := testRouter(t, &staticTokenVerifier{claims: adminClaims()})

	body := `{"identifier": "alice", "password": "password123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer some-token")
	req.RemoteAddr = "192.0.2.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_CSRFTokenEndpoint(t *testing.T) {
	router := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := decodeBody(t, resp)
	if got["token"] == "" || got["token"] == nil {
		t.Error("CSRFトークンが返されていない")
	}
}

func TestRouter_VerifySMS_RequiresAuth(t *testing.T) {
	router := testRouter(t, nil)

	body := `{"code": "123456"}`
	req := withCSRF(httptest.NewRequest(http.MethodPost, "/auth/verify-sms", strings.NewReader(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRouter_AdminRoute_RequiresAdmin(t *testing.T) {
	router := testRouter(t, nil)

	req := withCSRF(httptest.NewRequest(http.MethodPost, "/api/admin/users/5/lock", strings.NewReader("{}")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRouter_AdminRoute_WithAdminBearer(t *testing.T) {
	router := testRouter(t, &staticTokenVerifier{claims: adminClaims()})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/5/lock", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d: %s", w.Result().StatusCode, http.StatusOK, w.Body.String())
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	router := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := w.Result().Header
	if headers.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", headers.Get("X-Content-Type-Options"))
	}
	if headers.Get("X-Frame-Options") == "" {
		t.Error("X-Frame-Optionsが設定されていない")
	}
}
