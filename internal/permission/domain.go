package permission

import "time"

// DefaultGuard is used when a service is constructed without an explicit guard.
const DefaultGuard = "web"

// RoleScope is advisory metadata describing where a role is meant to be used.
// The evaluator never consults it.
type RoleScope string

const (
	RoleScopeGlobal RoleScope = "global"
	RoleScopeTenant RoleScope = "tenant"
	RoleScopeBoth   RoleScope = "both"
)

// Role groups permissions under a slug that is unique across all tenants.
type Role struct {
	ID        int64
	Slug      string
	Name      string
	Guard     string
	Scope     RoleScope
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission is an atomic capability. A nil Tenant means the permission is
// definable and checkable in any tenant context.
type Permission struct {
	ID        int64
	Slug      string
	Name      string
	Guard     string
	Tenant    *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleAssignment ties a principal to a role for an optional tenant.
// A nil Tenant denotes a global assignment, effective in every tenant context.
type RoleAssignment struct {
	PrincipalID int64
	RoleID      int64
	RoleSlug    string
	Tenant      *int64
	CreatedAt   time.Time
}

// DirectGrant attaches a permission to a principal without a role in between.
// Tenant scopes the grant itself; PermissionTenant is the permission's own
// tenant restriction.
type DirectGrant struct {
	PrincipalID      int64
	PermissionID     int64
	PermissionSlug   string
	PermissionTenant *int64
	Tenant           *int64
	CreatedAt        time.Time
}

// RolePermissionEntry is one permission reachable through a role.
type RolePermissionEntry struct {
	PermissionID int64
	Slug         string
	Tenant       *int64
}

// TenantRole records that a role is available for assignment within a tenant.
// This is a validity constraint for provisioning tools, not authorization input.
type TenantRole struct {
	TenantID  int64
	RoleID    int64
	RoleSlug  string
	CreatedAt time.Time
}

// Snapshot is the materialized grant set for one principal, loaded from the
// store and memoized by the cache layer.
type Snapshot struct {
	PrincipalID int64                           `json:"principal_id"`
	Assignments []RoleAssignment                `json:"assignments"`
	RoleGrants  map[int64][]RolePermissionEntry `json:"role_grants"`
	Direct      []DirectGrant                   `json:"direct"`
	LoadedAt    time.Time                       `json:"loaded_at"`
}
