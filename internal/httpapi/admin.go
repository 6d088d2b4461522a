package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/rbac"
)

type roleBody struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Level       int    `json:"level"`
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Level       int       `json:"level"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type permissionBody struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
}

type permissionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRole(r rbac.Role) roleResponse {
	return roleResponse(r)
}

func toRoles(in []rbac.Role) []roleResponse {
	out := make([]roleResponse, 0, len(in))
	for _, r := range in {
		out = append(out, toRole(r))
	}
	return out
}

func toPermission(p rbac.Permission) permissionResponse {
	return permissionResponse(p)
}

func toPermissions(in []rbac.Permission) []permissionResponse {
	out := make([]permissionResponse, 0, len(in))
	for _, p := range in {
		out = append(out, toPermission(p))
	}
	return out
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.engine.RBAC().Roles(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoles(roles))
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	role, err := a.engine.RBAC().CreateRole(r.Context(), actor(r).UserID, rbac.Role{
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Level:       body.Level,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRole(*role))
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	role, err := a.engine.RBAC().UpdateRole(r.Context(), actor(r).UserID, rbac.Role{
		ID:          chi.URLParam(r, "roleID"),
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Level:       body.Level,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRole(*role))
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RBAC().DeleteRole(r.Context(), actor(r).UserID, chi.URLParam(r, "roleID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.engine.RBAC().RolePermissions(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermissions(perms))
}

func (a *API) addRolePermission(w http.ResponseWriter, r *http.Request) {
	err := a.engine.RBAC().AddRolePermission(r.Context(), actor(r).UserID,
		chi.URLParam(r, "roleID"), chi.URLParam(r, "permissionID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeRolePermission(w http.ResponseWriter, r *http.Request) {
	err := a.engine.RBAC().RemoveRolePermission(r.Context(), actor(r).UserID,
		chi.URLParam(r, "roleID"), chi.URLParam(r, "permissionID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listPermissions accepts an optional ?resource= filter.
func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	var (
		perms []rbac.Permission
		err   error
	)
	if resource := r.URL.Query().Get("resource"); resource != "" {
		perms, err = a.engine.RBAC().PermissionsByResource(r.Context(), resource)
	} else {
		perms, err = a.engine.RBAC().Permissions(r.Context())
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermissions(perms))
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var body permissionBody
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	perm, err := a.engine.RBAC().CreatePermission(r.Context(), actor(r).UserID, rbac.Permission{
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Resource:    body.Resource,
		Action:      body.Action,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermission(*perm))
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	var body permissionBody
	if err := decode(r, &body); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "malformed request body")
		return
	}

	perm, err := a.engine.RBAC().UpdatePermission(r.Context(), actor(r).UserID, rbac.Permission{
		ID:          chi.URLParam(r, "permissionID"),
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Resource:    body.Resource,
		Action:      body.Action,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermission(*perm))
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RBAC().DeletePermission(r.Context(), actor(r).UserID, chi.URLParam(r, "permissionID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userAccess returns the live authorization state of a user. Callers may
// read their own; anyone else needs PermUsersRead.
func (a *API) userAccess(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	caller := actor(r)
	if caller.UserID != target {
		ok, err := a.engine.RBAC().HasPermission(r.Context(), caller.UserID, PermUsersRead)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if !ok {
			writeErrorCode(w, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
	}

	uc, err := a.engine.RBAC().Context(r.Context(), target)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := map[string]any{
		"user_id":     uc.UserID,
		"roles":       toRoles(uc.Roles),
		"permissions": uc.PermissionNames(),
		"level":       uc.Level,
		"computed_at": uc.ComputedAt,
	}
	if !uc.ValidUntil.IsZero() {
		out["valid_until"] = uc.ValidUntil
	}
	writeJSON(w, http.StatusOK, out)
}

type assignBody struct {
	RoleID       string     `json:"role_id"`
	PermissionID string     `json:"permission_id"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decode(r, &body); err != nil || body.RoleID == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "role_id required")
		return
	}

	err := a.engine.RBAC().AssignRole(r.Context(), actor(r).UserID, chi.URLParam(r, "userID"), body.RoleID, body.ExpiresAt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeRole(w http.ResponseWriter, r *http.Request) {
	err := a.engine.RBAC().RemoveRole(r.Context(), actor(r).UserID, chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) grantPermission(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decode(r, &body); err != nil || body.PermissionID == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "permission_id required")
		return
	}

	err := a.engine.RBAC().GrantPermission(r.Context(), actor(r).UserID, chi.URLParam(r, "userID"), body.PermissionID, body.ExpiresAt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request) {
	err := a.engine.RBAC().RevokePermission(r.Context(), actor(r).UserID, chi.URLParam(r, "userID"), chi.URLParam(r, "permissionID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryAudit filters by user_id, actor_id, action, resource_type, from,
// to (RFC 3339) and limit.
func (a *API) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:       q.Get("user_id"),
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "from must be RFC 3339")
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid", "to must be RFC 3339")
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			writeErrorCode(w, http.StatusBadRequest, "invalid", "limit must be a non-negative integer")
			return
		}
	}

	entries, err := a.audit.Query(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
