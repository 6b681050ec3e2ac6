package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

type organizationRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
	IsActive *bool   `json:"is_active"`
}

type userRequest struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	IsActive    *bool   `json:"is_active"`
	IsStaff     *bool   `json:"is_staff"`
	IsSuperuser *bool   `json:"is_superuser"`
}

type roleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type permissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type attachRequest struct {
	Permission string `json:"permission"`
}

type grantRequest struct {
	UserID         string `json:"user_id"`
	RoleID         string `json:"role_id"`
	OrganizationID string `json:"organization_id"`
}

func (g grantRequest) grant() auth.Grant {
	return auth.Grant{UserID: g.UserID, RoleID: g.RoleID, OrganizationID: g.OrganizationID}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// --- organizations ---

func (a *API) organizationRoutes(r chi.Router) {
	r.Use(a.protect(auth.ResourceOrganizations))
	r.Get("/", a.listOrganizations)
	r.Post("/", a.createOrganization)
	r.Get("/{id}", a.getOrganization)
	r.Patch("/{id}", a.updateOrganization)
	r.Delete("/{id}", a.deleteOrganization)
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := a.rbac.ListOrganizations(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.rbac.CreateOrganization(r.Context(), deref(req.Name), deref(req.ParentID))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if req.IsActive != nil && !*req.IsActive {
		org, err = a.rbac.UpdateOrganization(r.Context(), org.ID, auth.OrganizationUpdate{IsActive: req.IsActive})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
	}
	a.audit(r, "organization.created", map[string]any{"organization_id": org.ID, "parent_id": org.ParentID})
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := a.rbac.GetOrganization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) updateOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.rbac.UpdateOrganization(r.Context(), chi.URLParam(r, "id"), auth.OrganizationUpdate{
		Name:     req.Name,
		ParentID: req.ParentID,
		IsActive: req.IsActive,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "organization.updated", map[string]any{"organization_id": org.ID})
	writeJSON(w, http.StatusOK, org)
}

func (a *API) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeleteOrganization(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "organization.deleted", map[string]any{"organization_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- users ---

func (a *API) userRoutes(r chi.Router) {
	r.Use(a.protect(auth.ResourceUsers))
	r.Get("/", a.listUsers)
	r.Post("/", a.createUser)
	r.Get("/{id}", a.getUser)
	r.Put("/{id}", a.updateUser)
	r.Delete("/{id}", a.deleteUser)
	r.Get("/{id}/organizations", a.userOrganizations)
	r.Get("/{id}/permissions", a.userPermissions)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListUsers(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.CreateUser(r.Context(), auth.NewUser{
		Name:        deref(req.Name),
		Email:       deref(req.Email),
		Password:    deref(req.Password),
		IsActive:    req.IsActive,
		IsStaff:     deref(req.IsStaff),
		IsSuperuser: deref(req.IsSuperuser),
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "user.created", map[string]any{"user_id": user.ID, "is_superuser": user.IsSuperuser})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.UpdateUser(r.Context(), chi.URLParam(r, "id"), auth.UserUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		IsActive:    req.IsActive,
		IsStaff:     req.IsStaff,
		IsSuperuser: req.IsSuperuser,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "user.updated", map[string]any{"user_id": user.ID, "password_changed": req.Password != nil})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeleteUser(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "user.deleted", map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userOrganizations(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	breakdown, err := a.svc.OrganizationBreakdown(r.Context(), user.ID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "organizations": breakdown})
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	perms, err := a.svc.EffectivePermissions(r.Context(), user.ID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "permissions": perms})
}

// --- roles ---

func (a *API) roleRoutes(r chi.Router) {
	r.Use(a.protect(auth.ResourceRoles))
	r.Get("/", a.listRoles)
	r.Post("/", a.createRole)
	r.Get("/{id}", a.getRole)
	r.Patch("/{id}", a.updateRole)
	r.Delete("/{id}", a.deleteRole)
	r.Get("/{id}/permissions", a.listRolePermissions)
	r.Post("/{id}/permissions", a.attachPermission)
	r.Delete("/{id}/permissions/{permissionID}", a.detachPermission)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), deref(req.Name), deref(req.Description))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "role.created", map[string]any{"role_id": role.ID, "name": role.Name})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), chi.URLParam(r, "id"), auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "role.updated", map[string]any{"role_id": role.ID})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeleteRole(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "role.deleted", map[string]any{"role_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListRolePermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) attachPermission(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := chi.URLParam(r, "id")
	link, created, err := a.rbac.AttachPermission(r.Context(), roleID, req.Permission)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		a.audit(r, "role.permission_attached", map[string]any{"role_id": roleID, "permission_id": link.PermissionID})
	}
	writeJSON(w, code, link)
}

func (a *API) detachPermission(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "permissionID")
	if err := a.rbac.DetachPermission(r.Context(), roleID, permID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "role.permission_detached", map[string]any{"role_id": roleID, "permission_id": permID})
	w.WriteHeader(http.StatusNoContent)
}

// --- permissions ---

func (a *API) permissionRoutes(r chi.Router) {
	r.Use(a.protect(auth.ResourcePermissions))
	r.Get("/", a.listPermissions)
	r.Post("/", a.createPermission)
	r.Get("/{id}", a.getPermission)
	r.Delete("/{id}", a.deletePermission)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "permission.created", map[string]any{"permission_id": perm.ID, "name": perm.Name})
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := a.rbac.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.rbac.DeletePermission(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "permission.deleted", map[string]any{"permission_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- grants ---

func (a *API) grantRoutes(r chi.Router) {
	r.Use(a.protect(auth.ResourceGrants))
	r.Get("/", a.listGrants)
	r.Post("/", a.grantRole)
	r.Delete("/", a.revokeRole)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	grants, err := a.rbac.ListGrants(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, created, err := a.rbac.GrantRole(r.Context(), req.grant())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		a.audit(r, "grant.created", map[string]any{
			"grant_id":        grant.ID,
			"user_id":         grant.UserID,
			"role_id":         grant.RoleID,
			"organization_id": grant.OrganizationID,
		})
	}
	writeJSON(w, code, grant)
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.RevokeRole(r.Context(), req.grant()); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r, "grant.revoked", map[string]any{
		"user_id":         req.UserID,
		"role_id":         req.RoleID,
		"organization_id": req.OrganizationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrCycle),
		errors.Is(err, auth.ErrReferentialViolation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("rbac operation failed")
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
