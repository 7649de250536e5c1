package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jdauth/apiserver/internal/services"
	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// UserHandler provides self-service endpoints for authenticated users.
type UserHandler struct {
	users    *services.UserService
	auditing *services.AuditService
}

// NewUserHandler constructs a UserHandler with the provided dependencies.
func NewUserHandler(users *services.UserService, auditing *services.AuditService) *UserHandler {
	return &UserHandler{users: users, auditing: auditing}
}

// UserRouter registers self-service routes on the given router. The caller
// applies RequireAuth.
func UserRouter(r chi.Router, users *services.UserService, auditing *services.AuditService) {
	handler := NewUserHandler(users, auditing)

	r.Get("/profile", handler.Profile)
	r.Put("/profile", handler.UpdateProfile)
	r.Get("/protected", handler.Protected)
}

// Profile returns the authenticated user.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile lets the authenticated user change their own username or
// password.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	update := services.UserUpdate{Password: req.Password}
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		update.Username = &trimmed
	}

	updated, err := h.users.Update(r.Context(), user.ID, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, "username already exists")
		case errors.Is(err, services.ErrUsernameLength),
			errors.Is(err, services.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to update profile")
		}
		return
	}

	meta := requestMeta(r)
	h.auditing.Record(r.Context(), types.AuditEvent{
		Action:       types.ActionUpdateUser,
		ResourceType: "user",
		ResourceID:   strconv.Itoa(user.ID),
		UserID:       &user.ID,
		Username:     user.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Method:       meta.Method,
		Path:         meta.Path,
		Description:  fmt.Sprintf("User '%s' updated their profile", user.Username),
		Details:      map[string]any{"target_username": updated.Username},
	})

	writeJSON(w, http.StatusOK, updated)
}

// Protected is a simple authenticated probe.
func (h *UserHandler) Protected(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  fmt.Sprintf("Hello %s, you have access to this protected route", user.Username),
		"username": user.Username,
	})
}

type ProfileUpdateRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}
