package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jdauth/apiserver/internal/archive"
	"github.com/jdauth/apiserver/internal/services"
	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// AdminHandler provides user administration endpoints.
type AdminHandler struct {
	users    *services.UserService
	auditing *services.AuditService
	archiver *archive.Archiver
	logger   *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. The archiver may be nil when no
// object storage backend is configured.
func NewAdminHandler(users *services.UserService, auditing *services.AuditService, archiver *archive.Archiver, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{users: users, auditing: auditing, archiver: archiver, logger: logger}
}

// AdminUserRouter registers the admin user management routes. The caller
// applies RequireAuth and RequireAdmin.
func AdminUserRouter(r chi.Router, handler *AdminHandler) {
	r.Post("/users", handler.CreateUser)
	r.Get("/users/search", handler.SearchUsers)
	r.Post("/users/bulk", handler.BulkSetStatus)
	r.Post("/users/export", handler.ExportUsers)
	r.Get("/users/{id}", handler.GetUser)
	r.Put("/users/{id}", handler.UpdateUser)
	r.Delete("/users/{id}", handler.DeleteUser)
	r.Put("/users/{id}/role", handler.ChangeRole)
	r.Put("/users/{id}/status", handler.SetStatus)
}

// ListUsers returns a page of users with optional role and status filters.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filters := types.UserFilters{
		Role:     r.URL.Query().Get("role"),
		IsActive: queryBool(r, "is_active"),
		Skip:     queryInt(r, "skip", 0),
		Limit:    queryInt(r, "limit", 100),
	}

	result, err := h.users.Search(r.Context(), clampListFilters(filters))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, UserListResponse{
		Users:      result.Users,
		TotalCount: result.TotalCount,
	})
}

// CreateUser creates an account with an explicit role.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminCreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Role == "" {
		req.Role = types.RoleUser
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		h.writeUserError(w, err, "failed to create user")
		return
	}

	h.auditUserAction(r, types.ActionCreateUser, user.ID, user.Username, nil)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser returns a single user by id.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser applies a partial update to a user. Admins cannot update their
// own account through this endpoint.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id == actor.ID {
		writeError(w, http.StatusBadRequest, "cannot modify your own account")
		return
	}

	var req AdminUpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	update := services.UserUpdate{
		Password: req.Password,
		Role:     req.Role,
		IsActive: req.IsActive,
	}
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		update.Username = &trimmed
	}

	user, err := h.users.Update(r.Context(), id, update)
	if err != nil {
		h.writeUserError(w, err, "failed to update user")
		return
	}

	h.auditUserAction(r, types.ActionUpdateUser, user.ID, user.Username, nil)
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user. Admins cannot delete their own account.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	target, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	if err := h.users.Delete(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, services.ErrSelfModification) {
			writeError(w, http.StatusBadRequest, "cannot delete your own account")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	h.auditUserAction(r, types.ActionDeleteUser, id, target.Username, nil)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("user '%s' deleted", target.Username),
	})
}

// ChangeRole assigns a role to a user. Admins cannot change their own role.
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.users.ChangeRole(r.Context(), id, actor.ID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSelfModification):
			writeError(w, http.StatusBadRequest, "cannot change your own role")
		case errors.Is(err, services.ErrInvalidRole):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to change role")
		}
		return
	}

	h.auditUserAction(r, types.ActionChangeUserRole, user.ID, user.Username, map[string]any{"new_role": user.Role})
	writeJSON(w, http.StatusOK, user)
}

// SetStatus activates or deactivates a user. Admins cannot change their own
// status.
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.users.SetStatus(r.Context(), id, actor.ID, *req.IsActive)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSelfModification):
			writeError(w, http.StatusBadRequest, "cannot change your own status")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to change status")
		}
		return
	}

	h.auditUserAction(r, types.ActionSetUserStatus, user.ID, user.Username, map[string]any{"is_active": user.IsActive})
	writeJSON(w, http.StatusOK, user)
}

// SearchUsers returns users matching the query filters with pagination
// bookkeeping.
func (h *AdminHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := types.UserFilters{
		Query:     q.Get("query"),
		Role:      q.Get("role"),
		IsActive:  queryBool(r, "is_active"),
		Skip:      queryInt(r, "skip", 0),
		Limit:     queryInt(r, "limit", 100),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if after := q.Get("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after")
			return
		}
		filters.CreatedAfter = &t
	}
	if before := q.Get("created_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before")
			return
		}
		filters.CreatedBefore = &t
	}

	result, err := h.users.Search(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search users")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BulkSetStatus activates or deactivates up to 100 users in one request.
func (h *AdminHandler) BulkSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req BulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var active bool
	switch req.Operation {
	case "activate":
		active = true
	case "deactivate":
		active = false
	default:
		writeError(w, http.StatusBadRequest, "operation must be activate or deactivate")
		return
	}

	result, err := h.users.BulkSetActive(r.Context(), req.UserIDs, actor.ID, active)
	if err != nil {
		if errors.Is(err, services.ErrBulkTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "bulk operation failed")
		return
	}

	action := types.ActionBulkDeactivateUsers
	if active {
		action = types.ActionBulkActivateUsers
	}
	h.auditUserAction(r, action, 0, "", map[string]any{
		"total_processed": result.TotalProcessed,
		"success_count":   result.SuccessCount,
		"failure_count":   result.FailureCount,
	})

	writeJSON(w, http.StatusOK, result)
}

// ExportUsers renders the matching users as CSV or JSON, optionally archives
// the payload to object storage, and returns it as an attachment.
func (h *AdminHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Format == "" {
		req.Format = "csv"
	}
	if req.Format != "csv" && req.Format != "json" {
		writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	filters := types.UserFilters{Role: req.Role, IsActive: req.IsActive}

	var payload []byte
	contentType := "text/csv"
	if req.Format == "csv" {
		payload, err = h.users.ExportCSV(r.Context(), filters)
	} else {
		payload, err = h.users.ExportJSON(r.Context(), filters)
		contentType = "application/json"
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	details := map[string]any{"format": req.Format}
	if h.archiver != nil {
		key, err := h.archiver.StoreExport(r.Context(), payload, req.Format)
		if err != nil {
			h.logger.Error("failed to archive export", "error", err)
		} else {
			details["archive_key"] = key
		}
	}

	meta := requestMeta(r)
	h.auditing.Record(r.Context(), types.AuditEvent{
		Action:       types.ActionExportData,
		ResourceType: "user",
		UserID:       &actor.ID,
		Username:     actor.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
		Details:      details,
	})

	filename := fmt.Sprintf("users_%s.%s", time.Now().UTC().Format("20060102_150405"), req.Format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// auditUserAction records an admin action on a target user.
func (h *AdminHandler) auditUserAction(r *http.Request, action string, targetID int, targetUsername string, extra map[string]any) {
	actor, err := userFromContext(r.Context())
	if err != nil {
		return
	}

	details := map[string]any{}
	for k, v := range extra {
		details[k] = v
	}
	if targetUsername != "" {
		details["target_username"] = targetUsername
	}

	event := types.AuditEvent{
		Action:       action,
		ResourceType: "user",
		UserID:       &actor.ID,
		Username:     actor.Username,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
		Method:       r.Method,
		Path:         r.URL.Path,
		Details:      details,
	}
	if targetID > 0 {
		event.ResourceID = strconv.Itoa(targetID)
	}
	h.auditing.Record(r.Context(), event)
}

func (h *AdminHandler) writeUserError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrUsernameLength),
		errors.Is(err, services.ErrPasswordTooShort),
		errors.Is(err, services.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func clampListFilters(filters types.UserFilters) types.UserFilters {
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 100
	}
	if filters.Skip < 0 {
		filters.Skip = 0
	}
	return filters
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

type AdminCreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type AdminUpdateUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

type BulkStatusRequest struct {
	UserIDs   []int  `json:"user_ids"`
	Operation string `json:"operation"`
}

type ExportRequest struct {
	Format   string `json:"format"`
	Role     string `json:"role"`
	IsActive *bool  `json:"is_active"`
}

// UserListResponse is the payload of the paginated user listing.
type UserListResponse struct {
	Users      []types.User `json:"users"`
	TotalCount int          `json:"total_count"`
}
