package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// Repository looks up local credentials.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// SessionPrimer opens an upstream session for freshly authenticated credentials.
type SessionPrimer interface {
	Login(ctx context.Context, p upstream.Principal) (upstream.Session, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenService
	primer SessionPrimer
	logger *slog.Logger
}

// NewService constructs a new Service. primer may be nil.
func NewService(repo Repository, tokens *TokenService, primer SessionPrimer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, primer: primer, logger: logger.With(slog.String("component", "auth"))}
}

// Tokens exposes the token service.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates locally, issues a token pair, and opens the matching upstream session.
// The upstream step is best effort: a failure is logged and does not fail the login.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.tokens.IssuePair(SubjectOf(user))
	if err != nil {
		return TokenPair{}, nil, err
	}
	if s.primer != nil {
		if _, err := s.primer.Login(ctx, upstream.Principal{Identifier: user.Email, Secret: password}); err != nil {
			s.logger.WarnContext(ctx, "upstream session not primed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		}
	}
	s.logger.InfoContext(ctx, "user logged in", slog.Int64("user_id", user.ID))
	return pair, user, nil
}

// Logout revokes the access token and, when supplied, a refresh token of the same user.
func (s *Service) Logout(ctx context.Context, access *Claims, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, access.ID); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	refresh, err := s.tokens.Authenticate(ctx, refreshToken, RefreshToken)
	if err != nil {
		return err
	}
	if refresh.User.UserID != access.User.UserID {
		return fmt.Errorf("auth: refresh token belongs to another user: %w", shared.ErrInvalidToken)
	}
	return s.tokens.Revoke(ctx, refresh.ID)
}
