package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adityarama/sekolah-core/internal/audit"
	"github.com/adityarama/sekolah-core/internal/auth"
)

type createUserRequest struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

type updateUserRequest struct {
	Name     *string    `json:"name,omitempty"`
	Email    *string    `json:"email,omitempty"`
	Role     *auth.Role `json:"role,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userRepo.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeBadRequest(w, "name, email, and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be admin, guru, or user")
		return
	}

	principal := principalFromContext(r.Context())

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    principal.UserID,
	}

	if err := s.userRepo.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already registered")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", string(user.Role), "created_by", principal.UserID)
	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionUserCreate,
		EntityType: "user",
		EntityID:   user.ID,
		ActorID:    principal.UserID,
		Details:    map[string]any{"email": user.Email, "role": string(user.Role)},
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser modifies a user's mutable fields.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) { //nolint:gocognit // field patching plus self-protection guards
	id := chi.URLParam(r, "id")
	principal := principalFromContext(r.Context())

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user for update failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	// Self-protection: cannot deactivate yourself
	if req.IsActive != nil && !*req.IsActive && id == principal.UserID {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}

	// Self-protection: cannot change your own role
	if req.Role != nil && id == principal.UserID && *req.Role != principal.Role {
		writeForbidden(w, "cannot change your own role")
		return
	}

	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeBadRequest(w, "invalid role: must be admin, guru, or user")
		return
	}

	// Apply patches
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.userRepo.Update(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already registered")
			return
		}
		s.logger.Error("update user failed", "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionUserUpdate,
		EntityType: "user",
		EntityID:   user.ID,
		ActorID:    principal.UserID,
	})

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user account. Tokens already issued to the
// account keep working until expiry unless revoked; deletion only blocks
// future logins.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	principal := principalFromContext(r.Context())

	// Self-protection: cannot delete yourself
	if id == principal.UserID {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	if err := s.userRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", principal.UserID)
	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionUserDelete,
		EntityType: "user",
		EntityID:   id,
		ActorID:    principal.UserID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// handleResetPassword sets a new password for a user without requiring
// the current one. Admin-only; the self-service flow is change-password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	principal := principalFromContext(r.Context())

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to reset password")
		return
	}

	if err := s.userRepo.UpdatePassword(r.Context(), id, hash); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("reset password failed", "error", err)
		writeInternalError(w, "failed to reset password")
		return
	}

	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionPasswordChange,
		EntityType: "user",
		EntityID:   id,
		ActorID:    principal.UserID,
		Details:    map[string]any{"reset_by_admin": true},
	})

	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}
