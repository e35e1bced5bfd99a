package permission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newMiddlewareFixture(t *testing.T) (*Service, Middleware) {
	t.Helper()
	svc, _ := newTestService(t)
	mw := Middleware{
		Service:   svc,
		Principal: HeaderPrincipalResolver("X-Principal-ID"),
	}
	return svc, mw
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequirePermissionInTenant(t *testing.T) {
	svc, mw := newMiddlewareFixture(t)
	ctx := context.Background()

	leer, err := svc.EnsurePermission(ctx, "leer", "Leer", 7)
	require.NoError(t, err)
	gerente, err := svc.EnsureRole(ctx, "gerente", "Gerente", RoleScopeTenant)
	require.NoError(t, err)
	require.NoError(t, svc.AttachRolePermission(ctx, gerente.ID, leer.ID))
	require.NoError(t, svc.AssignRole(ctx, 101, gerente.ID, 7))

	router := chi.NewRouter()
	router.With(mw.RequirePermission("leer")).Get("/tenants/{tenantID}/reports", okHandler().ServeHTTP)

	cases := []struct {
		name      string
		path      string
		principal string
		want      int
	}{
		{"granted tenant", "/tenants/7/reports", "101", http.StatusOK},
		{"other tenant", "/tenants/8/reports", "101", http.StatusForbidden},
		{"unknown principal", "/tenants/7/reports", "999", http.StatusForbidden},
		{"missing principal", "/tenants/7/reports", "", http.StatusForbidden},
		{"malformed tenant", "/tenants/acme/reports", "101", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.principal != "" {
				req.Header.Set("X-Principal-ID", tc.principal)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequireRoleWithoutTenantParam(t *testing.T) {
	svc, mw := newMiddlewareFixture(t)
	ctx := context.Background()

	_, err := svc.EnsureRole(ctx, "admin", "Admin", RoleScopeGlobal)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, 101, "admin", 3))

	router := chi.NewRouter()
	router.With(mw.RequireRole("admin")).Get("/admin", okHandler().ServeHTTP)

	// No tenant in the route: the check runs context-free, so a
	// tenant-scoped assignment still counts.
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Principal-ID", "101")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAnyPermission(t *testing.T) {
	svc, mw := newMiddlewareFixture(t)
	ctx := context.Background()

	ver, err := svc.EnsurePermission(ctx, "ver", "Ver", nil)
	require.NoError(t, err)
	require.NoError(t, svc.GrantPermission(ctx, 101, ver.ID, nil))

	router := chi.NewRouter()
	router.With(mw.RequireAnyPermission("editar", "ver")).Get("/panel", okHandler().ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/panel", nil)
	req.Header.Set("X-Principal-ID", "101")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/panel", nil)
	req.Header.Set("X-Principal-ID", "102")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
