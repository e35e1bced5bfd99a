package permission

import (
	"context"
	"fmt"
	"strconv"
)

// TenantRef is any value that can be normalized to a tenant identifier:
// an integer, a numeric string, a *int64 (nil meaning global), or an entity
// implementing TenantIdentifiable. Passing nil selects the global scope.
type TenantRef any

// TenantIdentifiable is implemented by entities that expose their tenant key.
type TenantIdentifiable interface {
	TenantID() int64
}

// RoleRef identifies a role by id, slug, or Role value.
type RoleRef any

// PermissionRef identifies a permission by id, slug, or Permission value.
type PermissionRef any

// NormalizeTenant converts a tenant reference into its identifier. A nil
// reference yields nil (global). References that are neither numeric nor
// expose a key fail with ErrInvalidReference; they are never coerced to
// global.
func NormalizeTenant(ref TenantRef) (*int64, error) {
	switch v := ref.(type) {
	case nil:
		return nil, nil
	case *int64:
		return v, nil
	case int64:
		return &v, nil
	case int:
		id := int64(v)
		return &id, nil
	case int32:
		id := int64(v)
		return &id, nil
	case uint:
		id := int64(v)
		return &id, nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant %q is not numeric", ErrInvalidReference, v)
		}
		return &id, nil
	case TenantIdentifiable:
		id := v.TenantID()
		return &id, nil
	default:
		return nil, fmt.Errorf("%w: tenant reference %T", ErrInvalidReference, ref)
	}
}

// resolveRoleID normalizes a role reference into its identifier, consulting
// the store for slug references.
func (s *Service) resolveRoleID(ctx context.Context, ref RoleRef) (int64, error) {
	switch v := ref.(type) {
	case Role:
		return s.checkRoleGuard(ctx, v)
	case *Role:
		if v == nil {
			return 0, fmt.Errorf("%w: nil role", ErrInvalidReference)
		}
		return s.checkRoleGuard(ctx, *v)
	case int64:
		role, err := s.store.FindRoleByID(ctx, v)
		if err != nil {
			return 0, err
		}
		return s.checkRoleGuard(ctx, role)
	case int:
		return s.resolveRoleID(ctx, int64(v))
	case string:
		role, err := s.store.FindRoleBySlug(ctx, v, s.guard)
		if err != nil {
			return 0, err
		}
		return role.ID, nil
	default:
		return 0, fmt.Errorf("%w: role reference %T", ErrInvalidReference, ref)
	}
}

// resolvePermissionID normalizes a permission reference into its identifier.
func (s *Service) resolvePermissionID(ctx context.Context, ref PermissionRef) (int64, error) {
	switch v := ref.(type) {
	case Permission:
		return s.checkPermissionGuard(ctx, v)
	case *Permission:
		if v == nil {
			return 0, fmt.Errorf("%w: nil permission", ErrInvalidReference)
		}
		return s.checkPermissionGuard(ctx, *v)
	case int64:
		perm, err := s.store.FindPermissionByID(ctx, v)
		if err != nil {
			return 0, err
		}
		return s.checkPermissionGuard(ctx, perm)
	case int:
		return s.resolvePermissionID(ctx, int64(v))
	case string:
		perm, err := s.store.FindPermissionBySlug(ctx, v, s.guard)
		if err != nil {
			return 0, err
		}
		return perm.ID, nil
	default:
		return 0, fmt.Errorf("%w: permission reference %T", ErrInvalidReference, ref)
	}
}

func (s *Service) checkRoleGuard(_ context.Context, role Role) (int64, error) {
	if role.Guard != "" && role.Guard != s.guard {
		return 0, fmt.Errorf("%w: role %q belongs to guard %q, service uses %q",
			ErrGuardMismatch, role.Slug, role.Guard, s.guard)
	}
	return role.ID, nil
}

func (s *Service) checkPermissionGuard(_ context.Context, perm Permission) (int64, error) {
	if perm.Guard != "" && perm.Guard != s.guard {
		return 0, fmt.Errorf("%w: permission %q belongs to guard %q, service uses %q",
			ErrGuardMismatch, perm.Slug, perm.Guard, s.guard)
	}
	return perm.ID, nil
}
