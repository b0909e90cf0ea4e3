package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/observability"
	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/rbac/rbactest"
	"github.com/unical-ir/ir-gateway/internal/roles"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

func validConfig() *Config {
	return &Config{
		AppEnv:                "development",
		AppRequestTimeout:     5 * time.Second,
		RateLimit:             1000,
		CacheBackend:          "memory",
		UpstreamBaseURL:       "https://repo.example.org/server/api/",
		UpstreamRetryAttempts: 4,
		JWTSecret:             "test-secret",
		JWTAlgorithm:          "HS256",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTokenTTL:       time.Hour,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"missing secret":      func(c *Config) { c.JWTSecret = "" },
		"asymmetric alg":      func(c *Config) { c.JWTAlgorithm = "RS256" },
		"refresh < access":    func(c *Config) { c.RefreshTokenTTL = time.Minute },
		"relative upstream":   func(c *Config) { c.UpstreamBaseURL = "server/api" },
		"zero attempts":       func(c *Config) { c.UpstreamRetryAttempts = 0 },
		"unknown cache store": func(c *Config) { c.CacheBackend = "memcached" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *auth.TokenService) {
	t.Helper()
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	cfg := validConfig()
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, store, nil)
	require.NoError(t, err)

	repo := rbactest.New()
	repo.AddUser(1)
	rbacSvc := rbac.NewService(repo, nil)
	_, err = rbacSvc.EnsureCatalog(context.Background())
	require.NoError(t, err)
	_, err = rbacSvc.CreateRole(context.Background(), rbac.NewRole{Name: "user", Permissions: []string{rbac.PermReadResource}})
	require.NoError(t, err)
	require.NoError(t, rbacSvc.AssignRole(context.Background(), 1, "user"))
	mw := rbac.Middleware{Service: rbacSvc}

	router := NewRouter(RouterParams{
		Config:             cfg,
		Tokens:             tokens,
		AuthHandler:        auth.NewHandler(nil, auth.NewService(nil, tokens, nil, nil)),
		RolesHandler:       roles.NewHandler(nil, roles.NewService(rbacSvc, nil, nil, nil, nil), mw),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, rbacSvc, mw),
		Metrics:            observability.NewMetrics(),
		HealthChecks:       checks,
	})
	return router, tokens
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	router, _ = newTestRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestProtectedRoutes(t *testing.T) {
	router, tokens := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	pair, err := tokens.IssuePair(auth.Subject{UserID: 1, Email: "reader@example.org"})
	require.NoError(t, err)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusForbidden, get("/api/v1/roles", pair.AccessToken).Code)
	require.Equal(t, http.StatusUnauthorized, get("/api/v1/roles", pair.RefreshToken).Code)

	rec = get("/api/v1/permissions/me", pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"roles":["user"],"permissions":["read.resource"]}`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, get("/api/v1/nowhere", pair.AccessToken).Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "irgateway_http_requests_total")
}

func TestMemoryBackendKeepsRevocationsApart(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig()
	cfg.CacheMemorySize = 4
	cfg.RevocationMemorySize = 64

	sessions, revocations, client, err := openStores(ctx, cfg)
	require.NoError(t, err)
	require.Nil(t, client)
	require.NotSame(t, sessions, revocations)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, revocations, nil)
	require.NoError(t, err)

	pair, err := tokens.IssuePair(auth.Subject{UserID: 1, Email: "reader@example.org"})
	require.NoError(t, err)
	_, err = tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		require.NoError(t, cache.SetJSON(ctx, sessions, fmt.Sprintf("user%d@example.org", i), map[string]string{"bearerToken": "B"}, time.Hour))
	}

	_, err = tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, shared.ErrInvalidToken)
}
