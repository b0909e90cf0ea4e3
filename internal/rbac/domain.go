package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

// RoleName is one of the closed set of role names.
type RoleName string

const (
	RoleAdmin      RoleName = "admin"
	RoleUser       RoleName = "user"
	RoleSuperAdmin RoleName = "super_admin"
	RoleLecturer   RoleName = "lecturer"
	RoleStudent    RoleName = "student"
)

// RoleNames lists every valid role name.
func RoleNames() []RoleName {
	return []RoleName{RoleAdmin, RoleUser, RoleSuperAdmin, RoleLecturer, RoleStudent}
}

// Valid reports whether n is part of the enumeration.
func (n RoleName) Valid() bool {
	switch n {
	case RoleAdmin, RoleUser, RoleSuperAdmin, RoleLecturer, RoleStudent:
		return true
	}
	return false
}

// ParseRoleName normalizes raw and checks it against the enumeration.
func ParseRoleName(raw string) (RoleName, error) {
	name := RoleName(NormalizeName(raw))
	if !name.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q: %w", raw, shared.ErrBadRequest)
	}
	return name, nil
}

// NormalizeName applies the single case policy used for role and permission names:
// trim and lowercase at the boundary, exact match in storage.
func NormalizeName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        RoleName  `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewRole is the input of CreateRole.
type NewRole struct {
	Name        string
	Description string
	Permissions []string
}

// GroupMapping links a role to the upstream group mirroring it.
type GroupMapping struct {
	RoleID          int64     `json:"role_id"`
	RoleName        RoleName  `json:"role_name"`
	UpstreamGroupID string    `json:"upstream_group_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// PermissionSet is a set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set.Add(name)
	}
	return set
}

// Add inserts name.
func (s PermissionSet) Add(name string) {
	s[name] = struct{}{}
}

// Has reports membership.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAny reports whether any of names is present.
func (s PermissionSet) HasAny(names ...string) bool {
	for _, name := range names {
		if s.Has(name) {
			return true
		}
	}
	return false
}

// HasAll reports whether every one of names is present.
func (s PermissionSet) HasAll(names ...string) bool {
	for _, name := range names {
		if !s.Has(name) {
			return false
		}
	}
	return true
}

// Names returns the members sorted.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
