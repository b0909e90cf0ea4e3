package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/broker"
	"github.com/unical-ir/ir-gateway/internal/groups"
	"github.com/unical-ir/ir-gateway/internal/observability"
	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/platform/db"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/roles"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
	"github.com/unical-ir/ir-gateway/internal/users"
)

// Dependencies holds the process-wide resources and the services built on them.
type Dependencies struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Store cache.Store
	// Revocations holds revoked token ids; it never drops a live entry.
	Revocations cache.Store
	HTTPClient  *http.Client

	Upstream *upstream.Client
	Broker   *broker.Broker
	Tokens   *auth.TokenService
	Auth     *auth.Service
	RBAC     *rbac.Service
	Groups   *groups.Service
	Roles    *roles.Service
	Users    *users.Service
	UserRepo *users.Repository
}

// Open connects Postgres, the cache and the upstream client and wires every service.
// Close must be called once the process is done with them.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Dependencies, error) {
	d := &Dependencies{Logger: logger, Config: cfg, Metrics: observability.NewMetrics()}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	d.Pool = pool
	if err := db.Migrate(ctx, pool); err != nil {
		d.Close()
		return nil, err
	}

	d.Store, d.Revocations, d.Redis, err = openStores(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.HTTPClient = upstream.NewHTTPClient(upstream.HTTPConfig{
		Timeout:         cfg.UpstreamTimeout,
		MaxConns:        cfg.UpstreamMaxConns,
		MaxConnsPerHost: cfg.UpstreamMaxConnsPerHost,
	})
	retry := upstream.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.UpstreamRetryAttempts
	retry.MinDelay = cfg.UpstreamRetryMinDelay
	retry.MaxDelay = cfg.UpstreamRetryMaxDelay
	d.Upstream, err = upstream.NewClient(upstream.Options{
		BaseURL:    cfg.UpstreamBaseURL,
		HTTPClient: d.HTTPClient,
		Retry:      retry,
		Logger:     logger,
		Metrics:    d.Metrics,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Broker = broker.New(broker.Options{
		Store:   d.Store,
		Client:  d.Upstream,
		Admin:   upstream.Principal{Identifier: cfg.UpstreamAdminUser, Secret: cfg.UpstreamAdminPassword},
		TTL:     cfg.UpstreamSessionTTL,
		Logger:  logger,
		Metrics: d.Metrics,
	})

	d.Tokens, err = auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, d.Revocations, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("app: token service: %w", err)
	}

	d.UserRepo = users.NewRepository(pool)
	d.Auth = auth.NewService(d.UserRepo, d.Tokens, d.Broker, logger)
	d.RBAC = rbac.NewService(rbac.NewRepository(pool), logger)
	d.Groups = groups.NewService(groups.Options{Sessions: d.Broker, Upstream: d.Upstream, Store: d.Store, Logger: logger})
	audit := shared.NewAuditLogger(pool)
	d.Roles = roles.NewService(d.RBAC, d.Groups, d.UserRepo, audit, logger).WithUpstreamTimeout(cfg.UpstreamTxTimeout)
	d.Users = users.NewService(d.UserRepo, d.Groups, d.Roles, audit, logger)
	return d, nil
}

// openStores returns the session cache and the revocation store. The memory backend keeps
// revocations in a separate pinned store so session churn cannot evict them.
func openStores(ctx context.Context, cfg *Config) (cache.Store, cache.Store, *redis.Client, error) {
	if strings.ToLower(cfg.CacheBackend) == "memory" {
		sessions, err := cache.NewMemoryStore(cfg.CacheMemorySize)
		if err != nil {
			return nil, nil, nil, err
		}
		revocations, err := cache.NewPinnedMemoryStore(cfg.RevocationMemorySize)
		if err != nil {
			return nil, nil, nil, err
		}
		return sessions, revocations, nil, nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}
	store := cache.NewRedisStore(client)
	return store, store, client, nil
}

// Router builds the HTTP handler over the wired services.
func (d *Dependencies) Router() http.Handler {
	rbacMiddleware := rbac.Middleware{Service: d.RBAC, Logger: d.Logger}
	return NewRouter(RouterParams{
		Logger:             d.Logger,
		Config:             d.Config,
		Tokens:             d.Tokens,
		AuthHandler:        auth.NewHandler(d.Logger, d.Auth),
		UpstreamHandler:    broker.NewHandler(d.Logger, d.Broker, auth.Identity),
		UsersHandler:       users.NewHandler(d.Logger, d.Users, rbacMiddleware),
		RolesHandler:       roles.NewHandler(d.Logger, d.Roles, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(d.Logger, d.RBAC, rbacMiddleware),
		Metrics:            d.Metrics,
		HealthChecks:       d.HealthChecks(),
	})
}

// HealthChecks probes Postgres and the cache.
func (d *Dependencies) HealthChecks() map[string]HealthCheck {
	checks := map[string]HealthCheck{}
	if d.Pool != nil {
		checks["postgres"] = d.Pool.Ping
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases the pooled resources.
func (d *Dependencies) Close() {
	if d.HTTPClient != nil {
		d.HTTPClient.CloseIdleConnections()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
