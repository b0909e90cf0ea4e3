// Package roles administers roles and keeps their upstream groups in step.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unical-ir/ir-gateway/internal/groups"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// GroupSync is the upstream side of role administration.
type GroupSync interface {
	CreateGroup(ctx context.Context, in groups.NewGroup) (string, error)
	DeleteGroup(ctx context.Context, id string) error
	LinkUser(ctx context.Context, groupID, userUpstreamID string) error
	UnlinkUser(ctx context.Context, groupID, userUpstreamID string) error
	Members(ctx context.Context, groupID string) ([]upstream.EPerson, error)
}

// UserDirectory resolves the upstream account of a local user. An empty id means the
// user has no upstream account.
type UserDirectory interface {
	UpstreamID(ctx context.Context, userID int64) (string, error)
}

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultUpstreamTimeout bounds each upstream call made while a role transaction is open.
const DefaultUpstreamTimeout = 20 * time.Second

// Service orchestrates role administration across the RBAC store and upstream groups.
type Service struct {
	rbac            *rbac.Service
	groups          GroupSync
	users           UserDirectory
	audit           Auditor
	logger          *slog.Logger
	upstreamTimeout time.Duration
}

// NewService builds Service instance. audit may be nil.
func NewService(rbacSvc *rbac.Service, groupSync GroupSync, users UserDirectory, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		rbac:            rbacSvc,
		groups:          groupSync,
		users:           users,
		audit:           audit,
		logger:          logger.With(slog.String("component", "roles")),
		upstreamTimeout: DefaultUpstreamTimeout,
	}
}

// WithUpstreamTimeout sets the budget of each upstream call made inside a role transaction.
// Retries stop when it runs out, which releases the transaction's pool connection.
func (s *Service) WithUpstreamTimeout(d time.Duration) *Service {
	if d > 0 {
		s.upstreamTimeout = d
	}
	return s
}

// ListRoles returns all roles with their upstream groups.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	list, err := s.rbac.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(list))
	for _, role := range list {
		r, err := s.withMapping(ctx, role)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRole returns one role with its upstream group.
func (s *Service) GetRole(ctx context.Context, name string) (Role, error) {
	role, err := s.rbac.GetRole(ctx, name)
	if err != nil {
		return Role{}, err
	}
	return s.withMapping(ctx, role)
}

// CreateRole creates a role on behalf of actorID, who must hold create.role. The upstream
// group is created inside the role transaction; if that transaction does not commit the
// group is deleted again.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in rbac.NewRole) (Role, error) {
	if err := s.rbac.Authorize(ctx, actorID, rbac.PermCreateRole); err != nil {
		return Role{}, err
	}
	role, err := s.createRole(ctx, in)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditRoleCreated, string(role.Name), map[string]any{
		"permissions":       role.Permissions,
		"upstream_group_id": role.UpstreamGroupID,
	})
	return role, nil
}

// Bootstrap creates the default roles and their groups without an acting user.
func (s *Service) Bootstrap(ctx context.Context) ([]Role, error) {
	var created []Role
	for _, def := range rbac.DefaultRoles() {
		role, err := s.createRole(ctx, def)
		if errors.Is(err, shared.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, role)
	}
	return created, nil
}

func (s *Service) createRole(ctx context.Context, in rbac.NewRole) (Role, error) {
	var groupID string
	role, err := s.rbac.CreateRole(ctx, in, func(ctx context.Context, tx rbac.TxRepository, role rbac.Role) error {
		err := s.inTx(ctx, func(ctx context.Context) error {
			id, err := s.groups.CreateGroup(ctx, groups.NewGroup{Name: string(role.Name), Description: role.Description, Role: string(role.Name)})
			if err != nil {
				return err
			}
			groupID = id
			return nil
		})
		if err != nil {
			return err
		}
		return tx.SaveGroupMapping(ctx, rbac.GroupMapping{RoleID: role.ID, RoleName: role.Name, UpstreamGroupID: groupID})
	})
	if err != nil {
		if groupID != "" {
			s.compensate(ctx, groupID, err)
		}
		return Role{}, err
	}
	s.logger.InfoContext(ctx, "role provisioned", slog.String("role", string(role.Name)), slog.String("group_id", groupID))
	return Role{Role: role, UpstreamGroupID: groupID}, nil
}

// DeleteRole deletes a role and its upstream group. A failing upstream delete keeps the role.
func (s *Service) DeleteRole(ctx context.Context, actorID int64, name string) error {
	if err := s.rbac.Authorize(ctx, actorID, rbac.PermDeleteRole); err != nil {
		return err
	}
	var groupID string
	role, err := s.rbac.DeleteRole(ctx, name, func(ctx context.Context, tx rbac.TxRepository, role rbac.Role) error {
		mapping, err := tx.GetGroupMapping(ctx, role.ID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		groupID = mapping.UpstreamGroupID
		return s.inTx(ctx, func(ctx context.Context) error { return s.groups.DeleteGroup(ctx, groupID) })
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleDeleted, string(role.Name), map[string]any{"upstream_group_id": groupID})
	return nil
}

// AssignRole grants a role to userID on behalf of actorID, who must hold update.role.
func (s *Service) AssignRole(ctx context.Context, actorID, userID int64, name string) error {
	if err := s.rbac.Authorize(ctx, actorID, rbac.PermUpdateRole); err != nil {
		return err
	}
	if err := s.Assign(ctx, userID, name); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleAssigned, rbac.NormalizeName(name), map[string]any{"user_id": userID})
	return nil
}

// Assign grants a role and links the user's upstream account into the role's group.
// It performs no authorization and is meant for registration and seeding.
func (s *Service) Assign(ctx context.Context, userID int64, name string) error {
	return s.rbac.AssignRole(ctx, userID, name, s.membershipHook(s.groups.LinkUser))
}

// RemoveRole revokes a role from userID on behalf of actorID and unlinks the upstream membership.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID int64, name string) error {
	if err := s.rbac.Authorize(ctx, actorID, rbac.PermUpdateRole); err != nil {
		return err
	}
	if err := s.rbac.RemoveRole(ctx, userID, name, s.membershipHook(s.groups.UnlinkUser)); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleRemoved, rbac.NormalizeName(name), map[string]any{"user_id": userID})
	return nil
}

// Members lists the upstream members of a role's group.
func (s *Service) Members(ctx context.Context, name string) ([]Member, error) {
	role, err := s.GetRole(ctx, name)
	if err != nil {
		return nil, err
	}
	if role.UpstreamGroupID == "" {
		return []Member{}, nil
	}
	people, err := s.groups.Members(ctx, role.UpstreamGroupID)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(people))
	for _, p := range people {
		members = append(members, memberOf(p))
	}
	return members, nil
}

func (s *Service) membershipHook(apply func(ctx context.Context, groupID, upstreamID string) error) rbac.AssignmentHook {
	return func(ctx context.Context, tx rbac.TxRepository, userID int64, role rbac.Role) error {
		mapping, err := tx.GetGroupMapping(ctx, role.ID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		upstreamID, err := s.users.UpstreamID(ctx, userID)
		if err != nil {
			return err
		}
		if upstreamID == "" {
			s.logger.WarnContext(ctx, "user has no upstream account, membership not mirrored", slog.Int64("user_id", userID), slog.String("role", string(role.Name)))
			return nil
		}
		return s.inTx(ctx, func(ctx context.Context) error { return apply(ctx, mapping.UpstreamGroupID, upstreamID) })
	}
}

// inTx runs an upstream call under the per-call budget.
func (s *Service) inTx(ctx context.Context, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()
	return call(ctx)
}

func (s *Service) withMapping(ctx context.Context, role rbac.Role) (Role, error) {
	mapping, err := s.rbac.GroupMapping(ctx, role)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return Role{Role: role}, nil
	case err != nil:
		return Role{}, err
	}
	return Role{Role: role, UpstreamGroupID: mapping.UpstreamGroupID}, nil
}

// record writes an audit entry. Failures are logged and never fail the change itself.
func (s *Service) record(ctx context.Context, actorID int64, action, roleName string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{ActorID: actorID, Action: action, Entity: "role", EntityID: roleName, Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// compensate removes an upstream group whose role never committed.
func (s *Service) compensate(ctx context.Context, groupID string, cause error) {
	if err := s.groups.DeleteGroup(context.WithoutCancel(ctx), groupID); err != nil {
		s.logger.ErrorContext(ctx, "orphaned upstream group", slog.String("group_id", groupID), slog.Any("cause", cause), slog.Any("error", fmt.Errorf("compensating delete: %w", err)))
		return
	}
	s.logger.WarnContext(ctx, "upstream group rolled back", slog.String("group_id", groupID), slog.Any("cause", cause))
}
