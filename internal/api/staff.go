package api

import (
	"net/http"

	"github.com/adityarama/sekolah-core/internal/auth"
)

// handleStaffOverview returns the landing document for staff users. It
// is available to admins and gurus alike; regular users get 403 from the
// role middleware.
func (s *Server) handleStaffOverview(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	users, err := s.userRepo.List(r.Context())
	if err != nil {
		s.logger.Error("staff overview failed", "error", err)
		writeInternalError(w, "failed to load overview")
		return
	}

	var staff, students, inactive int
	for _, u := range users {
		if !u.IsActive {
			inactive++
			continue
		}
		switch u.Role {
		case auth.RoleAdmin, auth.RoleGuru:
			staff++
		case auth.RoleUser:
			students++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"viewer": principal,
		"accounts": map[string]int{
			"staff":    staff,
			"students": students,
			"inactive": inactive,
		},
	})
}
