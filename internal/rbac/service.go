package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

// RoleHook runs inside the role transaction after the rows are written; an error rolls everything back.
type RoleHook func(ctx context.Context, tx TxRepository, role Role) error

// AssignmentHook runs inside the assignment transaction.
type AssignmentHook func(ctx context.Context, tx TxRepository, userID int64, role Role) error

// Service orchestrates RBAC operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service backed by repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With(slog.String("component", "rbac"))}
}

// CreateRole inserts a role with its permissions, all or nothing. An existing role of the
// same name yields shared.ErrAlreadyExists; the first unknown permission yields shared.ErrNotFound.
func (s *Service) CreateRole(ctx context.Context, in NewRole, hooks ...RoleHook) (Role, error) {
	name, err := ParseRoleName(in.Name)
	if err != nil {
		return Role{}, err
	}
	permNames := normalizePermissions(in.Permissions)

	var created Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.RoleExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("rbac: role %q: %w", name, shared.ErrAlreadyExists)
		}
		perms := make([]Permission, 0, len(permNames))
		for _, permName := range permNames {
			perm, err := tx.GetPermission(ctx, permName)
			if err != nil {
				return err
			}
			perms = append(perms, perm)
		}
		role, err := tx.InsertRole(ctx, name, strings.TrimSpace(in.Description))
		if err != nil {
			return err
		}
		for _, perm := range perms {
			if err := tx.AttachPermission(ctx, role.ID, perm.ID); err != nil {
				return err
			}
			role.Permissions = append(role.Permissions, perm.Name)
		}
		for _, hook := range hooks {
			if err := hook(ctx, tx, role); err != nil {
				return err
			}
		}
		created = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	s.logger.InfoContext(ctx, "role created", slog.String("role", string(created.Name)), slog.Any("permissions", created.Permissions))
	return created, nil
}

// DeleteRole removes a role. Hooks run before the row is deleted, inside the same transaction.
func (s *Service) DeleteRole(ctx context.Context, rawName string, hooks ...RoleHook) (Role, error) {
	name, err := ParseRoleName(rawName)
	if err != nil {
		return Role{}, err
	}
	var deleted Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, name)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if err := hook(ctx, tx, role); err != nil {
				return err
			}
		}
		if err := tx.DeleteGroupMapping(ctx, role.ID); err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, role.ID); err != nil {
			return err
		}
		deleted = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	s.logger.InfoContext(ctx, "role deleted", slog.String("role", string(name)))
	return deleted, nil
}

// GetRole fetches a role with its permissions.
func (s *Service) GetRole(ctx context.Context, rawName string) (Role, error) {
	name, err := ParseRoleName(rawName)
	if err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, name)
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns all stored permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GroupMapping returns the upstream group mirroring a role.
func (s *Service) GroupMapping(ctx context.Context, role Role) (GroupMapping, error) {
	return s.repo.GetGroupMapping(ctx, role.ID)
}

// EffectivePermissions unions the permissions of every role held by userID.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	names, err := s.repo.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names...), nil
}

// UserRoles lists the roles held by userID.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]RoleName, error) {
	return s.repo.UserRoles(ctx, userID)
}

// UserHasPermission reports whether userID holds permission through any role.
func (s *Service) UserHasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(NormalizeName(permission)), nil
}

// Authorize fails with shared.ErrAuthorizationDenied unless userID holds permission.
func (s *Service) Authorize(ctx context.Context, userID int64, permission string) error {
	ok, err := s.UserHasPermission(ctx, userID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rbac: user %d lacks %s: %w", userID, permission, shared.ErrAuthorizationDenied)
	}
	return nil
}

// AssignRole grants a role to a user. Assigning a held role is a no-op and skips hooks.
func (s *Service) AssignRole(ctx context.Context, userID int64, rawName string, hooks ...AssignmentHook) error {
	return s.changeAssignment(ctx, userID, rawName, true, hooks)
}

// RemoveRole revokes a role from a user. Removing an unheld role yields shared.ErrNotFound.
func (s *Service) RemoveRole(ctx context.Context, userID int64, rawName string, hooks ...AssignmentHook) error {
	return s.changeAssignment(ctx, userID, rawName, false, hooks)
}

func (s *Service) changeAssignment(ctx context.Context, userID int64, rawName string, grant bool, hooks []AssignmentHook) error {
	name, err := ParseRoleName(rawName)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("rbac: user %d: %w", userID, shared.ErrNotFound)
		}
		role, err := tx.GetRole(ctx, name)
		if err != nil {
			return err
		}
		var changed bool
		if grant {
			changed, err = tx.AssignRole(ctx, userID, role.ID)
		} else {
			changed, err = tx.RemoveRole(ctx, userID, role.ID)
			if err == nil && !changed {
				err = fmt.Errorf("rbac: user %d does not hold %s: %w", userID, name, shared.ErrNotFound)
			}
		}
		if err != nil || !changed {
			return err
		}
		for _, hook := range hooks {
			if err := hook(ctx, tx, userID, role); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureCatalog inserts missing catalog permissions and returns how many were added.
// Existing rows are left untouched and nothing is ever removed.
func (s *Service) EnsureCatalog(ctx context.Context) (int, error) {
	added := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		added = 0
		for _, perm := range Catalog() {
			inserted, err := tx.InsertPermission(ctx, perm)
			if err != nil {
				return err
			}
			if inserted {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		s.logger.InfoContext(ctx, "permission catalog seeded", slog.Int("added", added))
	}
	return added, nil
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizeName(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
