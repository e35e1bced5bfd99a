package permission

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the administration surface as a JSON API: role and
// permission provisioning, tenant enablement, and grant mutations. The
// capability checks protecting these routes are mounted by the router.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers administration routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Post("/roles/{roleID}/permissions", h.attachPermission)
	r.Delete("/roles/{roleID}/permissions/{permissionID}", h.detachPermission)

	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.createPermission)
	r.Delete("/permissions/{permissionID}", h.deletePermission)

	r.Get("/tenants/{tenantID}/roles", h.listTenantRoles)
	r.Post("/tenants/{tenantID}/roles", h.enableTenantRole)
	r.Delete("/tenants/{tenantID}/roles/{roleID}", h.disableTenantRole)

	r.Get("/principals/{principalID}/roles", h.principalRoles)
	r.Post("/principals/{principalID}/roles", h.assignRole)
	r.Post("/principals/{principalID}/roles/sync", h.syncRoles)
	r.Delete("/principals/{principalID}/roles/{slug}", h.revokeRole)

	r.Get("/principals/{principalID}/permissions", h.principalPermissions)
	r.Post("/principals/{principalID}/permissions", h.grantPermission)
	r.Delete("/principals/{principalID}/permissions/{slug}", h.revokePermission)

	r.Get("/principals/{principalID}/check", h.check)
	r.Delete("/principals/{principalID}", h.deletePrincipal)
}

type createRoleRequest struct {
	Slug  string `json:"slug"`
	Name  string `json:"name" validate:"required"`
	Scope string `json:"scope" validate:"omitempty,oneof=global tenant both"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Slug, req.Name, RoleScope(req.Scope))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, role)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, roles)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), permID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPermissionRequest struct {
	Slug     string `json:"slug"`
	Name     string `json:"name" validate:"required"`
	TenantID *int64 `json:"tenant_id"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Slug, req.Name, tenantRef(req.TenantID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, perm)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, perms)
}

type attachPermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) attachPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req attachPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AttachRolePermission(r.Context(), roleID, req.Permission); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) detachPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.DetachRolePermission(r.Context(), roleID, permID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enableTenantRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) enableTenantRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathID(w, r, "tenantID")
	if !ok {
		return
	}
	var req enableTenantRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.EnableTenantRole(r.Context(), tenantID, req.Role); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disableTenantRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathID(w, r, "tenantID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DisableTenantRole(r.Context(), tenantID, roleID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTenantRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathID(w, r, "tenantID")
	if !ok {
		return
	}
	enabled, err := h.service.ListTenantRoles(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, enabled)
}

type assignRoleRequest struct {
	Role     string `json:"role" validate:"required"`
	TenantID *int64 `json:"tenant_id"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AssignRole(r.Context(), principalID, req.Role, tenantRef(req.TenantID)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRolesRequest struct {
	Roles    []string `json:"roles" validate:"required"`
	TenantID *int64   `json:"tenant_id"`
}

func (h *Handler) syncRoles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	var req syncRolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	refs := make([]RoleRef, len(req.Roles))
	for i, slug := range req.Roles {
		refs[i] = slug
	}
	if err := h.service.SyncRoles(r.Context(), principalID, refs, tenantRef(req.TenantID)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")
	tenant, err := queryTenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.RevokeRole(r.Context(), principalID, slug, tenant); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantPermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
	TenantID   *int64 `json:"tenant_id"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	var req grantPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.GrantPermission(r.Context(), principalID, req.Permission, tenantRef(req.TenantID)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")
	tenant, err := queryTenant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.RevokePermission(r.Context(), principalID, slug, tenant); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) principalRoles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	roles, err := h.service.AllRoles(r.Context(), principalID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) principalPermissions(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	scope, err := queryScope(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	perms, err := h.service.AllPermissions(r.Context(), principalID, scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	scope, err := queryScope(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var allowed bool
	switch {
	case r.URL.Query().Get("permission") != "":
		allowed, err = h.service.HasPermission(r.Context(), principalID, r.URL.Query().Get("permission"), scope)
	case r.URL.Query().Get("role") != "":
		allowed, err = h.service.HasRole(r.Context(), principalID, r.URL.Query().Get("role"), scope)
	default:
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "permission or role query parameter required"})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) deletePrincipal(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	if err := h.service.DeletePrincipal(r.Context(), principalID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryScope derives the evaluation scope from query parameters: a tenant
// parameter selects InTenant, mode=global selects Global, anything else is
// the context-free Anywhere check.
func queryScope(r *http.Request) (Scope, error) {
	if raw := r.URL.Query().Get("tenant"); raw != "" {
		tenantID, err := NormalizeTenant(raw)
		if err != nil {
			return Scope{}, err
		}
		return InTenant(*tenantID), nil
	}
	if r.URL.Query().Get("mode") == "global" {
		return Global(), nil
	}
	return Anywhere(), nil
}

func queryTenant(r *http.Request) (TenantRef, error) {
	raw := r.URL.Query().Get("tenant")
	if raw == "" {
		return nil, nil
	}
	id, err := NormalizeTenant(raw)
	if err != nil {
		return nil, err
	}
	return *id, nil
}

func tenantRef(id *int64) TenantRef {
	if id == nil {
		return nil
	}
	return *id
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidReference):
		status = http.StatusBadRequest
	case errors.Is(err, ErrGuardMismatch):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("permission admin request failed", slog.Any("error", err))
	}
	h.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}
