package permission

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// PrincipalResolver extracts the acting principal from a request. The second
// return value reports whether a principal is present at all.
type PrincipalResolver func(r *http.Request) (int64, bool)

// HeaderPrincipalResolver reads the principal id from a request header.
// Embedding applications normally supply their own resolver backed by their
// session or token layer.
func HeaderPrincipalResolver(header string) PrincipalResolver {
	return func(r *http.Request) (int64, bool) {
		raw := r.Header.Get(header)
		if raw == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
}

// DecisionRecorder counts allow and deny outcomes. Satisfied by the
// observability metrics.
type DecisionRecorder interface {
	RecordDecision(allowed bool)
}

// Middleware wires authorization checks into HTTP handlers. The tenant scope
// is taken from the {tenantID} URL parameter when present, otherwise the
// check runs context-free ("anywhere").
type Middleware struct {
	Service   *Service
	Principal PrincipalResolver
	Logger    *slog.Logger
	Metrics   DecisionRecorder
}

// RequirePermission allows the request through when the principal holds the
// permission under the request's tenant scope.
func (m Middleware) RequirePermission(permSlug string) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, principalID int64, scope Scope) (bool, error) {
		return m.Service.HasPermission(r.Context(), principalID, permSlug, scope)
	})
}

// RequireAnyPermission allows the request through when the principal holds at
// least one of the permissions under the request's tenant scope.
func (m Middleware) RequireAnyPermission(permSlugs ...string) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, principalID int64, scope Scope) (bool, error) {
		return m.Service.HasAnyPermission(r.Context(), principalID, permSlugs, scope)
	})
}

// RequireRole allows the request through when the principal holds the role
// under the request's tenant scope.
func (m Middleware) RequireRole(roleSlug string) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, principalID int64, scope Scope) (bool, error) {
		return m.Service.HasRole(r.Context(), principalID, roleSlug, scope)
	})
}

func (m Middleware) require(check func(*http.Request, int64, Scope) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := m.Principal(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			scope, err := scopeFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			allowed, err := check(r, principalID, scope)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization check failed", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if m.Metrics != nil {
				m.Metrics.RecordDecision(allowed)
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// scopeFromRequest derives the check scope from the route. A malformed tenant
// parameter is rejected rather than silently treated as global.
func scopeFromRequest(r *http.Request) (Scope, error) {
	raw := chi.URLParam(r, "tenantID")
	if raw == "" {
		return Anywhere(), nil
	}
	tenantID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Scope{}, errors.Join(ErrInvalidReference, err)
	}
	return InTenant(tenantID), nil
}
