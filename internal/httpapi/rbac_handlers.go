package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/YvesL-Web/project-manager/internal/audit"
	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/ids"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   string `json:"role_id"`
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	RoleID   *string `json:"role_id"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rights      string `json:"rights"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Rights      *string `json:"rights"`
}

type permissionsResponse struct {
	Modules map[string]map[string]string `json:"modules"`
	All     []string                     `json:"all"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermGetAllRoles) {
		return
	}
	writeSuccess(w, http.StatusOK, permissionsResponse{Modules: auth.RightsTable(), All: auth.SortedPermissions()})
}

// --- users ---

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermGetAllUsers) {
		return
	}
	users, err := a.directory.ListUsers(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermAddUser) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.directory.CreateUser(r.Context(), auth.UserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		RoleID:   req.RoleID,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.create", "user", user.ID, map[string]any{
		"username": user.Username,
		"role_id":  user.RoleID,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/users/%s", user.ID))
	writeSuccess(w, http.StatusCreated, user)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermGetDetailsUser) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := a.directory.GetUser(r.Context(), id)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermEditUser) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.directory.UpdateUser(r.Context(), id, auth.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		RoleID:   req.RoleID,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.update", "user", user.ID, map[string]any{
		"role_id":          user.RoleID,
		"password_changed": req.Password != nil,
	})
	writeSuccess(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermDeleteUser) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.directory.DeleteUser(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.delete", "user", id, nil)
	writeSuccess(w, http.StatusOK, map[string]any{"id": id})
}

// --- roles ---

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermGetAllRoles) {
		return
	}
	roles, err := a.directory.ListRoles(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermAddRole) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.directory.CreateRole(r.Context(), auth.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Rights:      req.Rights,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.create", "role", role.ID, map[string]any{
		"name":   role.Name,
		"rights": role.Rights,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/roles/%s", role.ID))
	writeSuccess(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermGetDetailsRole) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := a.directory.GetRole(r.Context(), id)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermEditRole) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.directory.UpdateRole(r.Context(), id, auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Rights:      req.Rights,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.update", "role", role.ID, map[string]any{
		"name":   role.Name,
		"rights": role.Rights,
	})
	writeSuccess(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, auth.PermDeleteRole) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.directory.DeleteRole(r.Context(), id); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.delete", "role", id, nil)
	writeSuccess(w, http.StatusOK, map[string]any{"id": id})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) {
	_ = audit.Record(ctx, audit.Event{
		Name:         event,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Fields:       fields,
	})
}

// pathID returns the {id} route parameter. Anything that is not a well-formed id cannot
// name a record and is answered with 404 before the store is consulted.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "Not found")
		return "", false
	}
	return id, true
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "Conflict")
	default:
		obs.Error("rbac_request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
