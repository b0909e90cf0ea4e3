// Package rbactest provides an in-memory rbac.Repository for tests.
package rbactest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

type state struct {
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	rolePerms   map[int64]map[int64]struct{}
	userRoles   map[int64]map[int64]struct{}
	users       map[int64]struct{}
	mappings    map[int64]rbac.GroupMapping
	nextID      int64
}

func (s *state) clone() *state {
	c := &state{
		roles:       maps.Clone(s.roles),
		permissions: maps.Clone(s.permissions),
		rolePerms:   make(map[int64]map[int64]struct{}, len(s.rolePerms)),
		userRoles:   make(map[int64]map[int64]struct{}, len(s.userRoles)),
		users:       maps.Clone(s.users),
		mappings:    maps.Clone(s.mappings),
		nextID:      s.nextID,
	}
	for k, v := range s.rolePerms {
		c.rolePerms[k] = maps.Clone(v)
	}
	for k, v := range s.userRoles {
		c.userRoles[k] = maps.Clone(v)
	}
	return c
}

// Repository is a transactional in-memory rbac.Repository. Transactions
// work on a copy that replaces the committed state only when fn succeeds.
type Repository struct {
	mu    sync.Mutex
	state *state
	// Commits counts successful transactions.
	Commits int
	// FailCommit, when set, makes the next commit fail after fn succeeded.
	FailCommit error
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{state: &state{
		roles:       map[int64]rbac.Role{},
		permissions: map[int64]rbac.Permission{},
		rolePerms:   map[int64]map[int64]struct{}{},
		userRoles:   map[int64]map[int64]struct{}{},
		users:       map[int64]struct{}{},
		mappings:    map[int64]rbac.GroupMapping{},
	}}
}

// AddUser registers a user id so role assignment can reference it.
func (r *Repository) AddUser(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[id] = struct{}{}
}

// SeedPermissions inserts the given permission names.
func (r *Repository) SeedPermissions(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := txView{s: r.state}
	for _, name := range names {
		_, _ = tx.InsertPermission(context.Background(), rbac.Permission{Name: name})
	}
}

// RoleCount returns the number of committed roles.
func (r *Repository) RoleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.roles)
}

// Mapping returns the committed group mapping for role name, if any.
func (r *Repository) Mapping(name rbac.RoleName) (rbac.GroupMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.state.mappings {
		if m.RoleName == name {
			return m, true
		}
	}
	return rbac.GroupMapping{}, false
}

// WithTx runs fn against a copy of the state and commits it on success.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, rbac.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, txView{s: work}); err != nil {
		return err
	}
	if err := r.FailCommit; err != nil {
		r.FailCommit = nil
		return fmt.Errorf("commit: %w", err)
	}
	r.state = work
	r.Commits++
	return nil
}

func (r *Repository) read() txView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return txView{s: r.state.clone()}
}

func (r *Repository) GetRole(ctx context.Context, name rbac.RoleName) (rbac.Role, error) {
	return r.read().GetRole(ctx, name)
}

func (r *Repository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return r.read().ListRoles(ctx)
}

func (r *Repository) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return r.read().ListPermissions(ctx)
}

func (r *Repository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.read().EffectivePermissions(ctx, userID)
}

func (r *Repository) UserRoles(ctx context.Context, userID int64) ([]rbac.RoleName, error) {
	return r.read().UserRoles(ctx, userID)
}

func (r *Repository) GetGroupMapping(ctx context.Context, roleID int64) (rbac.GroupMapping, error) {
	return r.read().GetGroupMapping(ctx, roleID)
}

type txView struct {
	s *state
}

func (t txView) role(id int64) rbac.Role {
	role := t.s.roles[id]
	role.Permissions = []string{}
	for pid := range t.s.rolePerms[id] {
		role.Permissions = append(role.Permissions, t.s.permissions[pid].Name)
	}
	sort.Strings(role.Permissions)
	return role
}

func (t txView) GetRole(_ context.Context, name rbac.RoleName) (rbac.Role, error) {
	for id, role := range t.s.roles {
		if role.Name == name {
			return t.role(id), nil
		}
	}
	return rbac.Role{}, fmt.Errorf("role %s: %w", name, shared.ErrNotFound)
}

func (t txView) ListRoles(context.Context) ([]rbac.Role, error) {
	roles := make([]rbac.Role, 0, len(t.s.roles))
	for id := range t.s.roles {
		roles = append(roles, t.role(id))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (t txView) ListPermissions(context.Context) ([]rbac.Permission, error) {
	perms := slices.Collect(maps.Values(t.s.permissions))
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (t txView) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	set := rbac.NewPermissionSet()
	for roleID := range t.s.userRoles[userID] {
		for pid := range t.s.rolePerms[roleID] {
			set.Add(t.s.permissions[pid].Name)
		}
	}
	return set.Names(), nil
}

func (t txView) UserRoles(_ context.Context, userID int64) ([]rbac.RoleName, error) {
	var names []rbac.RoleName
	for roleID := range t.s.userRoles[userID] {
		names = append(names, t.s.roles[roleID].Name)
	}
	slices.Sort(names)
	return names, nil
}

func (t txView) GetGroupMapping(_ context.Context, roleID int64) (rbac.GroupMapping, error) {
	m, ok := t.s.mappings[roleID]
	if !ok {
		return rbac.GroupMapping{}, fmt.Errorf("group mapping %d: %w", roleID, shared.ErrNotFound)
	}
	return m, nil
}

func (t txView) RoleExists(_ context.Context, name rbac.RoleName) (bool, error) {
	for _, role := range t.s.roles {
		if role.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (t txView) GetPermission(_ context.Context, name string) (rbac.Permission, error) {
	for _, p := range t.s.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return rbac.Permission{}, fmt.Errorf("permission %s: %w", name, shared.ErrNotFound)
}

func (t txView) InsertRole(_ context.Context, name rbac.RoleName, description string) (rbac.Role, error) {
	t.s.nextID++
	now := time.Now().UTC()
	role := rbac.Role{ID: t.s.nextID, Name: name, Description: description, Permissions: []string{}, CreatedAt: now, UpdatedAt: now}
	t.s.roles[role.ID] = role
	return role, nil
}

func (t txView) AttachPermission(_ context.Context, roleID, permissionID int64) error {
	if _, ok := t.s.rolePerms[roleID]; !ok {
		t.s.rolePerms[roleID] = map[int64]struct{}{}
	}
	t.s.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (t txView) DeleteRole(_ context.Context, roleID int64) error {
	if _, ok := t.s.roles[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	delete(t.s.roles, roleID)
	delete(t.s.rolePerms, roleID)
	delete(t.s.mappings, roleID)
	for _, held := range t.s.userRoles {
		delete(held, roleID)
	}
	return nil
}

func (t txView) InsertPermission(_ context.Context, p rbac.Permission) (bool, error) {
	for _, existing := range t.s.permissions {
		if existing.Name == p.Name {
			return false, nil
		}
	}
	t.s.nextID++
	p.ID = t.s.nextID
	t.s.permissions[p.ID] = p
	return true, nil
}

func (t txView) UserExists(_ context.Context, userID int64) (bool, error) {
	_, ok := t.s.users[userID]
	return ok, nil
}

func (t txView) AssignRole(_ context.Context, userID, roleID int64) (bool, error) {
	held, ok := t.s.userRoles[userID]
	if !ok {
		held = map[int64]struct{}{}
		t.s.userRoles[userID] = held
	}
	if _, ok := held[roleID]; ok {
		return false, nil
	}
	held[roleID] = struct{}{}
	return true, nil
}

func (t txView) RemoveRole(_ context.Context, userID, roleID int64) (bool, error) {
	if _, ok := t.s.userRoles[userID][roleID]; !ok {
		return false, nil
	}
	delete(t.s.userRoles[userID], roleID)
	return true, nil
}

func (t txView) SaveGroupMapping(_ context.Context, m rbac.GroupMapping) error {
	for roleID, existing := range t.s.mappings {
		if roleID != m.RoleID && existing.UpstreamGroupID == m.UpstreamGroupID {
			return fmt.Errorf("group %s already mapped: %w", m.UpstreamGroupID, shared.ErrAlreadyExists)
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	t.s.mappings[m.RoleID] = m
	return nil
}

func (t txView) DeleteGroupMapping(_ context.Context, roleID int64) error {
	delete(t.s.mappings, roleID)
	return nil
}

var (
	_ rbac.Repository   = (*Repository)(nil)
	_ rbac.TxRepository = txView{}
)
