package rbac

// Permission names of the closed catalog. New names may be appended; existing ones are never removed.
const (
	PermCreateRole        = "create.role"
	PermReadRole          = "read.role"
	PermUpdateRole        = "update.role"
	PermDeleteRole        = "delete.role"
	PermCreateResource    = "create.resource"
	PermReadResource      = "read.resource"
	PermUpdateResource    = "update.resource"
	PermDeleteResource    = "delete.resource"
	PermApproveSubmission = "approve.submission"
	PermManageCollection  = "manage.collection"
	PermEditMetadata      = "edit.metadata"
)

var catalog = []Permission{
	{Name: PermCreateRole, Description: "Create roles"},
	{Name: PermReadRole, Description: "Read roles"},
	{Name: PermUpdateRole, Description: "Update roles"},
	{Name: PermDeleteRole, Description: "Delete roles"},
	{Name: PermCreateResource, Description: "Create library resources"},
	{Name: PermReadResource, Description: "Read library resources"},
	{Name: PermUpdateResource, Description: "Update library resources"},
	{Name: PermDeleteResource, Description: "Delete library resources"},
	{Name: PermApproveSubmission, Description: "Approve submissions"},
	{Name: PermManageCollection, Description: "Manage collections"},
	{Name: PermEditMetadata, Description: "Edit metadata"},
}

// Catalog returns the permission catalog in declaration order.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogNames returns every catalog permission name.
func CatalogNames() []string {
	names := make([]string, len(catalog))
	for i, p := range catalog {
		names[i] = p.Name
	}
	return names
}

// DefaultRoles is the role seed: every enumerated role with its initial permissions.
func DefaultRoles() []NewRole {
	curator := []string{
		PermCreateResource, PermReadResource, PermUpdateResource, PermDeleteResource,
		PermApproveSubmission, PermManageCollection, PermEditMetadata, PermReadRole,
	}
	return []NewRole{
		{Name: string(RoleSuperAdmin), Description: "Super administrator with full access.", Permissions: CatalogNames()},
		{Name: string(RoleAdmin), Description: "Administrator role with full access.", Permissions: CatalogNames()},
		{Name: string(RoleLecturer), Description: "Lecturer role with resource management permissions.", Permissions: curator},
		{Name: string(RoleStudent), Description: "Student role that can deposit and read resources.", Permissions: []string{PermCreateResource, PermReadResource}},
		{Name: string(RoleUser), Description: "Standard user role with read-only access to resources.", Permissions: []string{PermReadResource}},
	}
}
