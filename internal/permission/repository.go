package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/famiq/permiso/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for grant data.
//
// Expected relations: roles, permissions, role_permission, tenant_role,
// principal_role and principal_permission. The assignment tables carry a
// nullable tenant_id with a UNIQUE NULLS NOT DISTINCT index over the triple,
// which is what makes the idempotent upserts below race-free.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const roleColumns = `id, slug, name, guard_name, scope, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Guard, &role.Scope, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// FindRoleBySlug fetches a role by slug within a guard.
func (r *Repository) FindRoleBySlug(ctx context.Context, slug, guard string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE slug = $1 AND guard_name = $2`, slug, guard))
	if err != nil {
		return Role{}, mapNoRows(err, "role", slug)
	}
	return role, nil
}

// FindRoleByID fetches a role by id.
func (r *Repository) FindRoleByID(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return Role{}, mapNoRows(err, "role", fmt.Sprint(id))
	}
	return role, nil
}

// CreateRole inserts a new role. A taken slug yields ErrAlreadyExists.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	created, err := scanRole(r.pool.QueryRow(ctx, `
		INSERT INTO roles (slug, name, guard_name, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Slug, role.Name, role.Guard, role.Scope))
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("%w: role slug %q", ErrAlreadyExists, role.Slug)
		}
		return Role{}, err
	}
	return created, nil
}

// EnsureRole finds a role by slug and guard, creating it when missing.
func (r *Repository) EnsureRole(ctx context.Context, role Role) (Role, error) {
	existing, err := r.FindRoleBySlug(ctx, role.Slug, role.Guard)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	created, err := scanRole(r.pool.QueryRow(ctx, `
		INSERT INTO roles (slug, name, guard_name, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (slug) DO NOTHING
		RETURNING `+roleColumns,
		role.Slug, role.Name, role.Guard, role.Scope))
	if err == nil {
		return created, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to a concurrent creator; the row exists now.
		return r.FindRoleBySlug(ctx, role.Slug, role.Guard)
	}
	return Role{}, err
}

// DeleteRole removes a role; grants referencing it cascade at the schema level.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return nil
}

// ListRoles returns all roles of a guard ordered by slug.
func (r *Repository) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE guard_name = $1 ORDER BY slug`, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

const permColumns = `id, slug, name, guard_name, tenant_id, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Guard, &perm.Tenant, &perm.CreatedAt, &perm.UpdatedAt)
	return perm, err
}

// FindPermissionBySlug fetches a permission by slug within a guard.
func (r *Repository) FindPermissionBySlug(ctx context.Context, slug, guard string) (Permission, error) {
	perm, err := scanPermission(r.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE slug = $1 AND guard_name = $2`, slug, guard))
	if err != nil {
		return Permission{}, mapNoRows(err, "permission", slug)
	}
	return perm, nil
}

// FindPermissionByID fetches a permission by id.
func (r *Repository) FindPermissionByID(ctx context.Context, id int64) (Permission, error) {
	perm, err := scanPermission(r.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		return Permission{}, mapNoRows(err, "permission", fmt.Sprint(id))
	}
	return perm, nil
}

// CreatePermission inserts a new permission. A taken slug yields ErrAlreadyExists.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	created, err := scanPermission(r.pool.QueryRow(ctx, `
		INSERT INTO permissions (slug, name, guard_name, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+permColumns,
		perm.Slug, perm.Name, perm.Guard, perm.Tenant))
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, fmt.Errorf("%w: permission slug %q", ErrAlreadyExists, perm.Slug)
		}
		return Permission{}, err
	}
	return created, nil
}

// EnsurePermission finds a permission by slug and guard, creating it when missing.
func (r *Repository) EnsurePermission(ctx context.Context, perm Permission) (Permission, error) {
	existing, err := r.FindPermissionBySlug(ctx, perm.Slug, perm.Guard)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	created, err := scanPermission(r.pool.QueryRow(ctx, `
		INSERT INTO permissions (slug, name, guard_name, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (slug) DO NOTHING
		RETURNING `+permColumns,
		perm.Slug, perm.Name, perm.Guard, perm.Tenant))
	if err == nil {
		return created, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return r.FindPermissionBySlug(ctx, perm.Slug, perm.Guard)
	}
	return Permission{}, err
}

// DeletePermission removes a permission; referencing grants cascade.
func (r *Repository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	return nil
}

// ListPermissions returns all permissions of a guard ordered by slug.
func (r *Repository) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE guard_name = $1 ORDER BY slug`, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// AttachRolePermission links a permission to a role. Duplicate links are no-ops.
func (r *Repository) AttachRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permission (role_id, permission_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID)
	return err
}

// DetachRolePermission removes a role-permission link.
func (r *Repository) DetachRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permission WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
	return err
}

// ListRolePermissions returns the permissions linked to a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermissionEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.slug, p.tenant_id
		FROM role_permission rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.slug`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []RolePermissionEntry
	for rows.Next() {
		var e RolePermissionEntry
		if err := rows.Scan(&e.PermissionID, &e.Slug, &e.Tenant); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnableTenantRole marks a role as available within a tenant.
func (r *Repository) EnableTenantRole(ctx context.Context, tenantID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_role (tenant_id, role_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id, role_id) DO NOTHING`,
		tenantID, roleID)
	return err
}

// DisableTenantRole removes a role's availability within a tenant.
func (r *Repository) DisableTenantRole(ctx context.Context, tenantID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM tenant_role WHERE tenant_id = $1 AND role_id = $2`,
		tenantID, roleID)
	return err
}

// ListTenantRoles returns the roles enabled for a tenant.
func (r *Repository) ListTenantRoles(ctx context.Context, tenantID int64) ([]TenantRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tr.tenant_id, tr.role_id, ro.slug, tr.created_at
		FROM tenant_role tr
		JOIN roles ro ON ro.id = tr.role_id
		WHERE tr.tenant_id = $1
		ORDER BY ro.slug`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var enabled []TenantRole
	for rows.Next() {
		var tr TenantRole
		if err := rows.Scan(&tr.TenantID, &tr.RoleID, &tr.RoleSlug, &tr.CreatedAt); err != nil {
			return nil, err
		}
		enabled = append(enabled, tr)
	}
	return enabled, rows.Err()
}

// ListRoleAssignments returns every role assignment held by a principal.
func (r *Repository) ListRoleAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pr.principal_id, pr.role_id, ro.slug, pr.tenant_id, pr.created_at
		FROM principal_role pr
		JOIN roles ro ON ro.id = pr.role_id
		WHERE pr.principal_id = $1
		ORDER BY pr.role_id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.PrincipalID, &a.RoleID, &a.RoleSlug, &a.Tenant, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ListDirectGrants returns every direct permission grant held by a principal.
func (r *Repository) ListDirectGrants(ctx context.Context, principalID int64) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pp.principal_id, pp.permission_id, p.slug, p.tenant_id, pp.tenant_id, pp.created_at
		FROM principal_permission pp
		JOIN permissions p ON p.id = pp.permission_id
		WHERE pp.principal_id = $1
		ORDER BY pp.permission_id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		if err := rows.Scan(&g.PrincipalID, &g.PermissionID, &g.PermissionSlug, &g.PermissionTenant, &g.Tenant, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// AssignRole adds a role assignment. Duplicate triples are absorbed by the
// unique index, so concurrent assigns for the same principal cannot race.
func (r *Repository) AssignRole(ctx context.Context, principalID, roleID int64, tenant *int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO principal_role (principal_id, role_id, tenant_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal_id, role_id, tenant_id) DO NOTHING`,
		principalID, roleID, tenant)
	return err
}

// RevokeRole removes a role assignment for one tenant value.
func (r *Repository) RevokeRole(ctx context.Context, principalID, roleID int64, tenant *int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM principal_role
		WHERE principal_id = $1 AND role_id = $2 AND tenant_id IS NOT DISTINCT FROM $3`,
		principalID, roleID, tenant)
	return err
}

// SyncRoles replaces the assignment set for one tenant value. Assignments
// carrying other tenant values are left untouched.
func (r *Repository) SyncRoles(ctx context.Context, principalID int64, roleIDs []int64, tenant *int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM principal_role
			WHERE principal_id = $1 AND tenant_id IS NOT DISTINCT FROM $2`,
			principalID, tenant)
		if err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO principal_role (principal_id, role_id, tenant_id, created_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (principal_id, role_id, tenant_id) DO NOTHING`,
				principalID, roleID, tenant)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GrantPermission adds a direct permission grant. Duplicates are no-ops.
func (r *Repository) GrantPermission(ctx context.Context, principalID, permissionID int64, tenant *int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO principal_permission (principal_id, permission_id, tenant_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal_id, permission_id, tenant_id) DO NOTHING`,
		principalID, permissionID, tenant)
	return err
}

// RevokePermission removes a direct permission grant for one tenant value.
func (r *Repository) RevokePermission(ctx context.Context, principalID, permissionID int64, tenant *int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM principal_permission
		WHERE principal_id = $1 AND permission_id = $2 AND tenant_id IS NOT DISTINCT FROM $3`,
		principalID, permissionID, tenant)
	return err
}

// DeletePrincipalGrants removes all assignments and direct grants of one
// principal.
func (r *Repository) DeletePrincipalGrants(ctx context.Context, principalID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM principal_role WHERE principal_id = $1`, principalID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM principal_permission WHERE principal_id = $1`, principalID)
		return err
	})
}

func mapNoRows(err error, kind, ref string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, ref)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
