package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/unical-ir/ir-gateway/internal/platform/cache"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	if k == RefreshToken {
		return "refresh"
	}
	return "access"
}

// Claims is the signed token payload: {user, exp, jti, refresh}.
type Claims struct {
	User    Subject `json:"user"`
	Refresh bool    `json:"refresh"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may be used where kind is expected.
func (c *Claims) Allows(kind TokenKind) bool {
	return c.Refresh == (kind == RefreshToken)
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService issues, verifies and revokes local tokens.
type TokenService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      cache.Store
	logger     *slog.Logger
	now        func() time.Time
}

// NewTokenService validates cfg and returns a TokenService using store as the revocation set.
func NewTokenService(cfg TokenConfig, store cache.Store, logger *slog.Logger) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: token secret is empty")
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		store:      store,
		logger:     logger.With(slog.String("component", "tokens")),
		now:        time.Now,
	}, nil
}

// Issue signs a token for subject that expires after ttl.
func (s *TokenService) Issue(subject Subject, ttl time.Duration, refresh bool) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		User:    subject,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// IssuePair signs a fresh access and refresh token for subject.
func (s *TokenService) IssuePair(subject Subject) (TokenPair, error) {
	access, _, err := s.Issue(subject, s.accessTTL, false)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.Issue(subject, s.refreshTTL, true)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

// Decode verifies signature and expiry. Expired tokens and bad signatures yield
// shared.ErrTokenExpired; every other failure yields shared.ErrInvalidToken.
func (s *TokenService) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("auth: decode: %v: %w", err, shared.ErrTokenExpired)
	default:
		return nil, fmt.Errorf("auth: decode: %v: %w", err, shared.ErrInvalidToken)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("auth: decode: token has no jti: %w", shared.ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate decodes token, rejects revoked tokens, and enforces the expected kind.
func (s *TokenService) Authenticate(ctx context.Context, token string, kind TokenKind) (*Claims, error) {
	claims, err := s.Decode(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("auth: token %s revoked: %w", claims.ID, shared.ErrInvalidToken)
	}
	if !claims.Allows(kind) {
		return nil, fmt.Errorf("auth: %s token expected: %w", kind, shared.ErrInvalidToken)
	}
	return claims, nil
}

// Revoke blacklists jti for the longest lifetime any token can have.
func (s *TokenService) Revoke(ctx context.Context, jti string) error {
	if err := s.store.Set(ctx, jti, "", s.refreshTTL); err != nil {
		return fmt.Errorf("auth: revoke %s: %w", jti, err)
	}
	s.logger.InfoContext(ctx, "token revoked", slog.String("jti", jti))
	return nil
}

// IsRevoked reports whether jti is blacklisted.
func (s *TokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ok, err := s.store.Exists(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("auth: revocation lookup: %w", err)
	}
	return ok, nil
}

// Refresh exchanges a valid refresh token for a new pair and revokes the old refresh token.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.Authenticate(ctx, refreshToken, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	pair, err := s.IssuePair(claims.User)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.Revoke(ctx, claims.ID); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}
