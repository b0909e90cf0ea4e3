package roles

import (
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// Role is a local role together with the upstream group mirroring it.
type Role struct {
	rbac.Role
	UpstreamGroupID string `json:"upstream_group_id,omitempty"`
}

// Member is an upstream member of a role's group.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func memberOf(p upstream.EPerson) Member {
	id := p.ID
	if id == "" {
		id = p.UUID
	}
	return Member{ID: id, Email: p.Email}
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}
