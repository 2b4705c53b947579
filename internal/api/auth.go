package api

import (
	"net/http"
	"strings"

	"parcelwatch/internal/auth"
)

// principal resolves the caller from the bearer token. With no verifier
// configured every caller is an admin.
func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	if s.Auth == nil {
		return auth.Principal{Subject: "anonymous", Role: "admin"}, true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return auth.Principal{}, false
	}
	p, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
	if err != nil {
		return auth.Principal{}, false
	}
	return p, true
}

// requireAdmin writes 401/403 and returns false unless the caller is an admin.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p, ok := s.principal(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
		return false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return false
	}
	return true
}
