// Package users registers local accounts and their upstream counterparts.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/platform/httpx"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// DefaultRole is granted to every registered user.
const DefaultRole = "user"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	Create(ctx context.Context, in NewUser) (User, error)
}

// Accounts creates upstream accounts with the privileged session.
type Accounts interface {
	CreateEPerson(ctx context.Context, in upstream.NewEPerson) (upstream.EPerson, error)
}

// RoleAssigner grants roles without an acting user.
type RoleAssigner interface {
	Assign(ctx context.Context, userID int64, role string) error
}

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	accounts    Accounts
	roles       RoleAssigner
	audit       Auditor
	defaultRole string
	logger      *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, accounts Accounts, roles RoleAssigner, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		accounts:    accounts,
		roles:       roles,
		audit:       audit,
		defaultRole: DefaultRole,
		logger:      logger.With(slog.String("component", "users")),
	}
}

// Register creates the upstream eperson, then the local user, then grants the default role,
// which links the user into the role's upstream group. The steps are not transactional: a
// failure after the upstream account exists leaves it in place and is logged.
func (s *Service) Register(ctx context.Context, in Registration) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := httpx.Validate(in); err != nil {
		return User{}, err
	}

	_, err := s.repo.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return User{}, fmt.Errorf("users: %s: %w", in.Email, shared.ErrAlreadyExists)
	case !errors.Is(err, shared.ErrNotFound):
		return User{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	person, err := s.accounts.CreateEPerson(ctx, upstream.NewEPerson{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		CanLogIn:  true,
	})
	if err != nil {
		return User{}, fmt.Errorf("users: create upstream account: %w", err)
	}

	user, err := s.repo.Create(ctx, NewUser{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
		UpstreamID:   person.ID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "upstream account left without local user", slog.String("eperson_id", person.ID), slog.Any("error", err))
		return User{}, err
	}

	if s.audit != nil {
		entry := shared.AuditLog{Action: shared.AuditUserCreated, Entity: "user", EntityID: strconv.FormatInt(user.ID, 10), Meta: map[string]any{"upstream_id": person.ID}}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "audit record failed", slog.Any("error", err))
		}
	}

	if err := s.roles.Assign(ctx, user.ID, s.defaultRole); err != nil {
		s.logger.ErrorContext(ctx, "default role not granted", slog.Int64("user_id", user.ID), slog.String("role", s.defaultRole), slog.Any("error", err))
		return user, fmt.Errorf("users: grant %s: %w", s.defaultRole, err)
	}
	s.logger.InfoContext(ctx, "user registered", slog.Int64("user_id", user.ID), slog.String("eperson_id", person.ID))
	return user, nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}
