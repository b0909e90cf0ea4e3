// Package broker hands out upstream sessions per principal, caching them between requests.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unical-ir/ir-gateway/internal/observability"
	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// DefaultSessionTTL bounds how long a cached upstream session is reused.
const DefaultSessionTTL = 300 * time.Second

// Authenticator is the part of the upstream client the broker drives.
type Authenticator interface {
	FetchCSRF(ctx context.Context) (string, error)
	ExchangeCredentials(ctx context.Context, p upstream.Principal, csrf string) (upstream.Session, error)
	Status(ctx context.Context, s upstream.Session) (upstream.AuthStatus, error)
	Logout(ctx context.Context, s upstream.Session) error
}

// AuthError reports that no upstream session could be obtained for Principal.
type AuthError struct {
	Principal  string
	Kind       upstream.Kind
	Privileged bool
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("broker: upstream login for %s failed (%s): %v", e.Principal, e.Kind, e.Err)
}

// Unwrap exposes shared.ErrUpstreamAuth and the underlying upstream error. A rejected
// end-user login also matches shared.ErrInvalidCredentials; a rejected service account does not.
func (e *AuthError) Unwrap() []error {
	errs := []error{shared.ErrUpstreamAuth, e.Err}
	if e.Kind == upstream.KindCredentials && !e.Privileged {
		errs = append(errs, shared.ErrInvalidCredentials)
	}
	return errs
}

// Options configures a Broker.
type Options struct {
	Store   cache.Store
	Client  Authenticator
	Admin   upstream.Principal
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Broker implements cache-aside session acquisition with single-flight on misses.
type Broker struct {
	store   cache.Store
	client  Authenticator
	admin   upstream.Principal
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	flights singleflight.Group
}

// New constructs a Broker.
func New(opts Options) *Broker {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:   opts.Store,
		client:  opts.Client,
		admin:   opts.Admin,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "broker")),
		metrics: opts.Metrics,
	}
}

// GetSession returns the cached session for p, logging in upstream on a miss.
// Concurrent misses for the same credentials share one upstream exchange.
func (b *Broker) GetSession(ctx context.Context, p upstream.Principal) (upstream.Session, error) {
	return b.getSession(ctx, p, false)
}

// PrivilegedSession returns the session of the configured administrative principal.
// Callers should fetch it per operation rather than holding on to it.
func (b *Broker) PrivilegedSession(ctx context.Context) (upstream.Session, error) {
	return b.getSession(ctx, b.admin, true)
}

// RefreshPrivileged replaces the cached administrative session with a fresh one.
func (b *Broker) RefreshPrivileged(ctx context.Context) (upstream.Session, error) {
	return b.login(ctx, b.admin, true)
}

// Login always performs a fresh upstream exchange and overwrites the cached session.
func (b *Broker) Login(ctx context.Context, p upstream.Principal) (upstream.Session, error) {
	if err := validatePrincipal(p); err != nil {
		return upstream.Session{}, err
	}
	return b.login(ctx, p, false)
}

// Lookup reads the cached session for identifier without contacting the upstream.
func (b *Broker) Lookup(ctx context.Context, identifier string) (upstream.Session, bool, error) {
	var session upstream.Session
	err := cache.GetJSON(ctx, b.store, identifier, &session)
	switch {
	case errors.Is(err, cache.ErrMiss):
		return upstream.Session{}, false, nil
	case err != nil:
		return upstream.Session{}, false, err
	case !session.Valid():
		return upstream.Session{}, false, nil
	}
	return session, true, nil
}

// Status describes the cached session of a principal.
type Status struct {
	Identifier    string `json:"identifier"`
	Cached        bool   `json:"cached"`
	Authenticated bool   `json:"authenticated"`
}

// Status checks the cached session of identifier against the upstream.
func (b *Broker) Status(ctx context.Context, identifier string) (Status, error) {
	status := Status{Identifier: identifier}
	session, ok, err := b.Lookup(ctx, identifier)
	if err != nil || !ok {
		return status, err
	}
	status.Cached = true
	upstreamStatus, err := b.client.Status(ctx, session)
	if err != nil {
		if upstream.Classify(err) == upstream.KindCredentials {
			return status, nil
		}
		return status, fmt.Errorf("broker: status %s: %w", identifier, err)
	}
	status.Authenticated = upstreamStatus.Authenticated
	return status, nil
}

// Logout ends the cached session of identifier upstream and drops it from the cache.
func (b *Broker) Logout(ctx context.Context, identifier string) error {
	session, ok, err := b.Lookup(ctx, identifier)
	if err != nil {
		return fmt.Errorf("broker: logout %s: %w", identifier, err)
	}
	if !ok {
		return nil
	}
	if err := b.client.Logout(ctx, session); err != nil && upstream.Classify(err) != upstream.KindCredentials {
		return fmt.Errorf("broker: logout %s: %w", identifier, err)
	}
	if err := b.store.Delete(ctx, identifier); err != nil {
		return fmt.Errorf("broker: logout %s: %w", identifier, err)
	}
	return nil
}

func (b *Broker) getSession(ctx context.Context, p upstream.Principal, privileged bool) (upstream.Session, error) {
	if err := validatePrincipal(p); err != nil {
		return upstream.Session{}, err
	}
	if session, ok := b.cached(ctx, p.Identifier); ok {
		b.metrics.ObserveSessionLookup(true)
		return session, nil
	}
	b.metrics.ObserveSessionLookup(false)

	// The shared exchange outlives any single waiter so a cancelled caller does not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	resultChan := b.flights.DoChan(flightKey(p), func() (any, error) {
		if session, ok := b.cached(flightCtx, p.Identifier); ok {
			return session, nil
		}
		return b.login(flightCtx, p, privileged)
	})
	select {
	case <-ctx.Done():
		return upstream.Session{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return upstream.Session{}, res.Err
		}
		return res.Val.(upstream.Session), nil
	}
}

func (b *Broker) cached(ctx context.Context, identifier string) (upstream.Session, bool) {
	session, ok, err := b.Lookup(ctx, identifier)
	if err != nil {
		b.logger.WarnContext(ctx, "session cache read failed", slog.String("principal", identifier), slog.Any("error", err))
		return upstream.Session{}, false
	}
	return session, ok
}

func (b *Broker) login(ctx context.Context, p upstream.Principal, privileged bool) (upstream.Session, error) {
	csrf, err := b.client.FetchCSRF(ctx)
	if err != nil {
		return upstream.Session{}, b.failure(ctx, p, privileged, err)
	}
	session, err := b.client.ExchangeCredentials(ctx, p, csrf)
	if err != nil {
		return upstream.Session{}, b.failure(ctx, p, privileged, err)
	}
	if err := cache.SetJSON(ctx, b.store, p.Identifier, session, b.ttl); err != nil {
		b.logger.WarnContext(ctx, "session cache write failed", slog.Any("principal", p), slog.Any("error", err))
	}
	b.metrics.ObserveLogin("success")
	b.logger.InfoContext(ctx, "upstream login succeeded", slog.Any("principal", p), slog.Bool("privileged", privileged))
	return session, nil
}

func (b *Broker) failure(ctx context.Context, p upstream.Principal, privileged bool, err error) error {
	kind := upstream.Classify(err)
	if kind == upstream.KindUnknown && ctx.Err() != nil {
		kind = upstream.KindUnavailable
	}
	b.metrics.ObserveLogin(kind.String())
	b.logger.WarnContext(ctx, "upstream login failed",
		slog.Any("principal", p),
		slog.Bool("privileged", privileged),
		slog.String("kind", kind.String()),
		slog.Any("error", err))
	return &AuthError{Principal: p.Identifier, Kind: kind, Privileged: privileged, Err: err}
}

func validatePrincipal(p upstream.Principal) error {
	if strings.TrimSpace(p.Identifier) == "" {
		return fmt.Errorf("broker: principal identifier is empty: %w", shared.ErrBadRequest)
	}
	return nil
}

// flightKey separates concurrent logins that use different secrets for the same identifier.
func flightKey(p upstream.Principal) string {
	sum := sha256.Sum256([]byte(p.Secret))
	return p.Identifier + "\x00" + hex.EncodeToString(sum[:8])
}
