package api

import (
	"net/http"
)

// handleMe returns the authenticated identity's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	view, err := s.identity.Me(r.Context(), claims.Subject)
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleMySessions lists the authenticated identity's active sessions,
// oldest first. Token hashes are never included.
func (s *Server) handleMySessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	sessions, err := s.identity.Sessions(r.Context(), claims.Subject)
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
