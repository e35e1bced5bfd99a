package permission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Service composes the grant store, the scope resolver and the cache into the
// capability query and mutation surface. One Service instance evaluates a
// single guard.
type Service struct {
	store  Store
	cache  *GrantCache
	guard  string
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithGuard sets the guard the service evaluates. Defaults to DefaultGuard.
func WithGuard(guard string) ServiceOption {
	return func(s *Service) {
		if guard != "" {
			s.guard = guard
		}
	}
}

// WithLogger sets the logger used for non-fatal cache signal failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a Service backed by the provided store and cache.
func NewService(store Store, cache *GrantCache, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		cache:  cache,
		guard:  DefaultGuard,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard returns the guard this service evaluates.
func (s *Service) Guard() string { return s.guard }

// ScopeFromTenant maps an optional tenant reference to a query scope the way
// the capability surface expects it: an absent tenant means "anywhere", a
// present one means "inside that tenant". An unresolvable reference aborts
// with ErrInvalidReference.
func ScopeFromTenant(ref TenantRef) (Scope, error) {
	if ref == nil {
		return Anywhere(), nil
	}
	id, err := NormalizeTenant(ref)
	if err != nil {
		return Scope{}, err
	}
	if id == nil {
		return Anywhere(), nil
	}
	return InTenant(*id), nil
}

func (s *Service) snapshot(ctx context.Context, principalID int64) (*Snapshot, error) {
	return s.cache.Get(ctx, principalID, s.loadSnapshot)
}

func (s *Service) loadSnapshot(ctx context.Context, principalID int64) (*Snapshot, error) {
	assignments, err := s.store.ListRoleAssignments(ctx, principalID)
	if err != nil {
		return nil, err
	}
	direct, err := s.store.ListDirectGrants(ctx, principalID)
	if err != nil {
		return nil, err
	}
	roleGrants := make(map[int64][]RolePermissionEntry)
	for _, a := range assignments {
		if _, ok := roleGrants[a.RoleID]; ok {
			continue
		}
		entries, err := s.store.ListRolePermissions(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		roleGrants[a.RoleID] = entries
	}
	return &Snapshot{
		PrincipalID: principalID,
		Assignments: assignments,
		RoleGrants:  roleGrants,
		Direct:      direct,
		LoadedAt:    s.now(),
	}, nil
}

// Prime loads a principal's snapshot into the cache. Used by warmup jobs.
func (s *Service) Prime(ctx context.Context, principalID int64) error {
	_, err := s.snapshot(ctx, principalID)
	return err
}

// HasRole reports whether the principal holds the role under the scope.
// Unknown slugs are simply no match, never an error.
func (s *Service) HasRole(ctx context.Context, principalID int64, roleSlug string, scope Scope) (bool, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, a := range snap.Assignments {
		if a.RoleSlug == roleSlug && scope.MatchesAssignment(a.Tenant) {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether the principal holds the permission under the
// scope, either through a direct grant or through any assigned role.
func (s *Service) HasPermission(ctx context.Context, principalID int64, permSlug string, scope Scope) (bool, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return false, err
	}
	return snapshotHasPermission(snap, permSlug, scope), nil
}

// HasAnyPermission reports whether at least one of the slugs matches.
func (s *Service) HasAnyPermission(ctx context.Context, principalID int64, permSlugs []string, scope Scope) (bool, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, slug := range permSlugs {
		if snapshotHasPermission(snap, slug, scope) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every slug matches.
func (s *Service) HasAllPermissions(ctx context.Context, principalID int64, permSlugs []string, scope Scope) (bool, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, slug := range permSlugs {
		if !snapshotHasPermission(snap, slug, scope) {
			return false, nil
		}
	}
	return true, nil
}

// AllPermissions returns the sorted, deduplicated permission slugs the
// principal holds under the scope, direct and role-mediated combined.
func (s *Service) AllPermissions(ctx context.Context, principalID int64, scope Scope) ([]string, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, g := range snap.Direct {
		if scope.Matches(g.Tenant, g.PermissionTenant) {
			set[g.PermissionSlug] = struct{}{}
		}
	}
	for _, a := range snap.Assignments {
		for _, e := range snap.RoleGrants[a.RoleID] {
			if scope.Matches(a.Tenant, e.Tenant) {
				set[e.Slug] = struct{}{}
			}
		}
	}
	slugs := make([]string, 0, len(set))
	for slug := range set {
		slugs = append(slugs, slug)
	}
	slices.Sort(slugs)
	return slugs, nil
}

// AllRoles returns the sorted distinct role slugs held under any tenant.
func (s *Service) AllRoles(ctx context.Context, principalID int64) ([]string, error) {
	snap, err := s.snapshot(ctx, principalID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(snap.Assignments))
	for _, a := range snap.Assignments {
		set[a.RoleSlug] = struct{}{}
	}
	slugs := make([]string, 0, len(set))
	for slug := range set {
		slugs = append(slugs, slug)
	}
	slices.Sort(slugs)
	return slugs, nil
}

func snapshotHasPermission(snap *Snapshot, permSlug string, scope Scope) bool {
	for _, g := range snap.Direct {
		if g.PermissionSlug == permSlug && scope.Matches(g.Tenant, g.PermissionTenant) {
			return true
		}
	}
	for _, a := range snap.Assignments {
		for _, e := range snap.RoleGrants[a.RoleID] {
			if e.Slug == permSlug && scope.Matches(a.Tenant, e.Tenant) {
				return true
			}
		}
	}
	return false
}

// AssignRole adds a role assignment for an optional tenant. Assigning an
// already-held triple is a no-op.
func (s *Service) AssignRole(ctx context.Context, principalID int64, role RoleRef, tenant TenantRef) error {
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, principalID, roleID, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// RevokeRole removes a role assignment for an optional tenant.
func (s *Service) RevokeRole(ctx context.Context, principalID int64, role RoleRef, tenant TenantRef) error {
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if err := s.store.RevokeRole(ctx, principalID, roleID, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// SyncRoles replaces the principal's assignment set for one tenant value.
// A global sync leaves tenant-scoped assignments untouched and vice versa.
func (s *Service) SyncRoles(ctx context.Context, principalID int64, roles []RoleRef, tenant TenantRef) error {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	roleIDs := make([]int64, 0, len(roles))
	for _, ref := range roles {
		id, err := s.resolveRoleID(ctx, ref)
		if err != nil {
			return err
		}
		if !slices.Contains(roleIDs, id) {
			roleIDs = append(roleIDs, id)
		}
	}
	if err := s.store.SyncRoles(ctx, principalID, roleIDs, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// GrantPermission adds a direct permission grant for an optional tenant.
func (s *Service) GrantPermission(ctx context.Context, principalID int64, perm PermissionRef, tenant TenantRef) error {
	permID, err := s.resolvePermissionID(ctx, perm)
	if err != nil {
		return err
	}
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if err := s.store.GrantPermission(ctx, principalID, permID, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// RevokePermission removes a direct permission grant for an optional tenant.
func (s *Service) RevokePermission(ctx context.Context, principalID int64, perm PermissionRef, tenant TenantRef) error {
	permID, err := s.resolvePermissionID(ctx, perm)
	if err != nil {
		return err
	}
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if err := s.store.RevokePermission(ctx, principalID, permID, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// DeletePrincipal cascades deletion of the principal's assignments and direct
// grants. Other principals' rows are untouched.
func (s *Service) DeletePrincipal(ctx context.Context, principalID int64) error {
	if err := s.store.DeletePrincipalGrants(ctx, principalID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, principalID int64) {
	if err := s.cache.Invalidate(ctx, principalID); err != nil {
		// The local eviction already happened; only the cross-process
		// signal was lost.
		s.logger.Warn("grant cache invalidation signal failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

// FindRoleBySlug looks up a role by slug within the service guard.
func (s *Service) FindRoleBySlug(ctx context.Context, slug string) (Role, error) {
	return s.store.FindRoleBySlug(ctx, slug, s.guard)
}

// FindPermissionBySlug looks up a permission by slug within the service guard.
func (s *Service) FindPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	return s.store.FindPermissionBySlug(ctx, slug, s.guard)
}

// CreateRole inserts a new role under the service guard. The slug is derived
// from the name when empty. Taken slugs yield ErrAlreadyExists.
func (s *Service) CreateRole(ctx context.Context, slug, name string, scope RoleScope) (Role, error) {
	if slug == "" {
		slug = Slugify(name)
	}
	if scope == "" {
		scope = RoleScopeBoth
	}
	return s.store.CreateRole(ctx, Role{Slug: slug, Name: name, Guard: s.guard, Scope: scope})
}

// EnsureRole finds or creates a role by slug under the service guard.
func (s *Service) EnsureRole(ctx context.Context, slug, name string, scope RoleScope) (Role, error) {
	if slug == "" {
		slug = Slugify(name)
	}
	if scope == "" {
		scope = RoleScopeBoth
	}
	return s.store.EnsureRole(ctx, Role{Slug: slug, Name: name, Guard: s.guard, Scope: scope})
}

// CreatePermission inserts a new permission under the service guard, scoped
// to the given tenant when one is provided.
func (s *Service) CreatePermission(ctx context.Context, slug, name string, tenant TenantRef) (Permission, error) {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return Permission{}, err
	}
	if slug == "" {
		slug = Slugify(name)
	}
	return s.store.CreatePermission(ctx, Permission{Slug: slug, Name: name, Guard: s.guard, Tenant: tenantID})
}

// EnsurePermission finds or creates a permission by slug under the service
// guard.
func (s *Service) EnsurePermission(ctx context.Context, slug, name string, tenant TenantRef) (Permission, error) {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return Permission{}, err
	}
	if slug == "" {
		slug = Slugify(name)
	}
	return s.store.EnsurePermission(ctx, Permission{Slug: slug, Name: name, Guard: s.guard, Tenant: tenantID})
}

// DeleteRole removes a role definition. Assignments referencing it are
// expected to cascade at the store level.
func (s *Service) DeleteRole(ctx context.Context, role RoleRef) error {
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, roleID)
}

// DeletePermission removes a permission definition.
func (s *Service) DeletePermission(ctx context.Context, perm PermissionRef) error {
	permID, err := s.resolvePermissionID(ctx, perm)
	if err != nil {
		return err
	}
	return s.store.DeletePermission(ctx, permID)
}

// ListRoles returns all roles under the service guard.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx, s.guard)
}

// ListPermissions returns all permissions under the service guard.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx, s.guard)
}

// AttachRolePermission links a permission to a role. The link itself is
// unscoped; tenancy is decided by the permission's own tenant and the
// assignment tenant at evaluation time.
func (s *Service) AttachRolePermission(ctx context.Context, role RoleRef, perm PermissionRef) error {
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	permID, err := s.resolvePermissionID(ctx, perm)
	if err != nil {
		return err
	}
	return s.store.AttachRolePermission(ctx, roleID, permID)
}

// DetachRolePermission removes a role-permission link.
func (s *Service) DetachRolePermission(ctx context.Context, role RoleRef, perm PermissionRef) error {
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	permID, err := s.resolvePermissionID(ctx, perm)
	if err != nil {
		return err
	}
	return s.store.DetachRolePermission(ctx, roleID, permID)
}

// EnableTenantRole marks a role as assignable within a tenant.
func (s *Service) EnableTenantRole(ctx context.Context, tenant TenantRef, role RoleRef) error {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if tenantID == nil {
		return fmt.Errorf("%w: tenant required", ErrInvalidReference)
	}
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	return s.store.EnableTenantRole(ctx, *tenantID, roleID)
}

// DisableTenantRole removes a role's availability within a tenant.
func (s *Service) DisableTenantRole(ctx context.Context, tenant TenantRef, role RoleRef) error {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return err
	}
	if tenantID == nil {
		return fmt.Errorf("%w: tenant required", ErrInvalidReference)
	}
	roleID, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return err
	}
	return s.store.DisableTenantRole(ctx, *tenantID, roleID)
}

// ListTenantRoles returns the roles enabled for a tenant.
func (s *Service) ListTenantRoles(ctx context.Context, tenant TenantRef) ([]TenantRole, error) {
	tenantID, err := NormalizeTenant(tenant)
	if err != nil {
		return nil, err
	}
	if tenantID == nil {
		return nil, fmt.Errorf("%w: tenant required", ErrInvalidReference)
	}
	return s.store.ListTenantRoles(ctx, *tenantID)
}
