package permission

import "fmt"

// ScopeMode selects the context a capability check is evaluated under.
type ScopeMode int

const (
	// ModeInTenant asks whether a grant applies while operating inside one
	// specific tenant.
	ModeInTenant ScopeMode = iota
	// ModeGlobal asks whether a grant applies with no tenant selected.
	ModeGlobal
	// ModeAnywhere asks whether a grant applies in at least one context,
	// without naming one.
	ModeAnywhere
)

// Scope pairs a mode with the tenant it targets (InTenant only).
type Scope struct {
	mode   ScopeMode
	tenant int64
}

// InTenant builds a scope targeting a single tenant.
func InTenant(tenantID int64) Scope {
	return Scope{mode: ModeInTenant, tenant: tenantID}
}

// Global builds a scope with no tenant context selected.
func Global() Scope {
	return Scope{mode: ModeGlobal}
}

// Anywhere builds a context-free scope.
func Anywhere() Scope {
	return Scope{mode: ModeAnywhere}
}

// Mode returns the scope mode.
func (s Scope) Mode() ScopeMode { return s.mode }

// TenantID returns the targeted tenant. Only meaningful for ModeInTenant.
func (s Scope) TenantID() int64 { return s.tenant }

func (s Scope) String() string {
	switch s.mode {
	case ModeInTenant:
		return fmt.Sprintf("in-tenant(%d)", s.tenant)
	case ModeGlobal:
		return "global"
	default:
		return "anywhere"
	}
}

// Matches decides whether a grant counts under this scope, given the
// assignment tenant and the permission tenant (nil means global).
//
// A global assignment is treated as "held everywhere": it satisfies any
// in-tenant check and also satisfies Anywhere even for a tenant-restricted
// permission. A global permission counts toward Anywhere and Global only when
// the assignment is also global; a tenant-scoped assignment does not claim a
// global permission under the context-free modes, but it does count in-tenant
// because global permissions are valid inside every tenant. The asymmetry is
// deliberate; do not collapse the branches into one symmetric rule.
func (s Scope) Matches(assignment, perm *int64) bool {
	switch s.mode {
	case ModeInTenant:
		return nilOrEqual(assignment, s.tenant) && nilOrEqual(perm, s.tenant)
	case ModeGlobal:
		return assignment == nil && perm == nil
	case ModeAnywhere:
		if perm == nil {
			return assignment == nil
		}
		return assignment == nil || *assignment == *perm
	default:
		return false
	}
}

// MatchesAssignment decides whether a role assignment counts under this scope.
// Role checks have no permission tenant: an assignment is effective in a tenant
// when it is global or targets that tenant, globally only when it is global,
// and anywhere unconditionally.
func (s Scope) MatchesAssignment(assignment *int64) bool {
	switch s.mode {
	case ModeInTenant:
		return nilOrEqual(assignment, s.tenant)
	case ModeGlobal:
		return assignment == nil
	case ModeAnywhere:
		return true
	default:
		return false
	}
}

func nilOrEqual(v *int64, want int64) bool {
	return v == nil || *v == want
}
