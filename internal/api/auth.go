package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adityarama/sekolah-core/internal/audit"
	"github.com/adityarama/sekolah-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	Token string     `json:"token"`
	Role  auth.Role  `json:"role"`
	User  *auth.User `json:"user"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// minPasswordLength applies to new passwords on create, change and reset.
const minPasswordLength = 8

// handleLogin authenticates an email/password pair and returns a signed
// session token. All credential failures share one 401 response.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	session, err := s.authService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.auditRecord(r.Context(), audit.Entry{
				Action:     audit.ActionLoginFailed,
				EntityType: "session",
				Details:    map[string]any{"email": auth.NormalizeEmail(req.Email)},
			})
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: "session",
		ActorID:    session.User.ID,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token: session.Token,
		Role:  session.Role,
		User:  session.User,
	})
}

// handleLogout revokes the presented bearer token. It always returns 200:
// revoking an absent, garbage or already-revoked token leaves the caller
// in the desired state either way. The revocation is committed before
// the response is written.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if err := s.authService.Revoke(r.Context(), token); err != nil {
		s.logger.Error("logout revocation failed", "error", err)
		writeServiceUnavailable(w, "logout temporarily unavailable")
		return
	}

	if token != "" {
		s.auditRecord(r.Context(), audit.Entry{
			Action:     audit.ActionLogout,
			EntityType: "session",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleMe returns the identity embedded in the presented token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	// The token is self-contained, but /me readers want the full record.
	user, err := s.userRepo.GetByID(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			// Account deleted after the token was minted.
			writeUnauthorized(w, "authentication required")
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleChangePassword lets any authenticated principal rotate their own
// password after proving they know the current one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeBadRequest(w, "new password must be at least 8 characters")
		return
	}

	user, err := s.userRepo.GetByID(r.Context(), principal.UserID)
	if err != nil {
		s.logger.Error("get user for password change failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	ok, err := auth.VerifyPassword(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		s.logger.Error("verify current password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if !ok {
		writeUnauthorized(w, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("hash new password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if err := s.userRepo.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		s.logger.Error("update password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	s.auditRecord(r.Context(), audit.Entry{
		Action:     audit.ActionPasswordChange,
		EntityType: "user",
		EntityID:   user.ID,
		ActorID:    principal.UserID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}
