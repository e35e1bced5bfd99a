package permission

import "context"

// Store is the persistence port for grant data. Implementations must enforce
// the uniqueness invariants at the store level: duplicate assignment or grant
// inserts are absorbed as no-ops, and only the explicit Create* calls surface
// ErrAlreadyExists.
type Store interface {
	// Lookup surface, scoped by guard.
	FindRoleBySlug(ctx context.Context, slug, guard string) (Role, error)
	FindRoleByID(ctx context.Context, id int64) (Role, error)
	FindPermissionBySlug(ctx context.Context, slug, guard string) (Permission, error)
	FindPermissionByID(ctx context.Context, id int64) (Permission, error)

	// CreateRole and CreatePermission are the explicit, non-idempotent
	// paths: a taken slug yields ErrAlreadyExists.
	CreateRole(ctx context.Context, role Role) (Role, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)

	// EnsureRole and EnsurePermission are find-or-create by slug and guard.
	EnsureRole(ctx context.Context, role Role) (Role, error)
	EnsurePermission(ctx context.Context, perm Permission) (Permission, error)

	DeleteRole(ctx context.Context, id int64) error
	DeletePermission(ctx context.Context, id int64) error
	ListRoles(ctx context.Context, guard string) ([]Role, error)
	ListPermissions(ctx context.Context, guard string) ([]Permission, error)

	// Role-permission links (unscoped many-to-many).
	AttachRolePermission(ctx context.Context, roleID, permissionID int64) error
	DetachRolePermission(ctx context.Context, roleID, permissionID int64) error
	ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermissionEntry, error)

	// Tenant-role enablement (availability, not authorization input).
	EnableTenantRole(ctx context.Context, tenantID, roleID int64) error
	DisableTenantRole(ctx context.Context, tenantID, roleID int64) error
	ListTenantRoles(ctx context.Context, tenantID int64) ([]TenantRole, error)

	// Grant rows feeding the evaluator's snapshot.
	ListRoleAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error)
	ListDirectGrants(ctx context.Context, principalID int64) ([]DirectGrant, error)

	// Mutations. Assign and Grant are idempotent adds; Revoke variants are
	// idempotent removes. SyncRoles replaces the assignment set for one
	// tenant value only, leaving rows with other tenant values untouched.
	AssignRole(ctx context.Context, principalID, roleID int64, tenant *int64) error
	RevokeRole(ctx context.Context, principalID, roleID int64, tenant *int64) error
	SyncRoles(ctx context.Context, principalID int64, roleIDs []int64, tenant *int64) error
	GrantPermission(ctx context.Context, principalID, permissionID int64, tenant *int64) error
	RevokePermission(ctx context.Context, principalID, permissionID int64, tenant *int64) error

	// DeletePrincipalGrants removes every assignment and direct grant for
	// one principal, leaving other principals' rows untouched.
	DeletePrincipalGrants(ctx context.Context, principalID int64) error
}
