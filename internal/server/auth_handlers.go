package server

import (
	"encoding/json"
	"net/http"
)

// handleLogin exchanges the shared password for a bearer token.
func (cs *CompanionServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if !cs.authService.IsEnabled() {
		cs.respondWithError(w, r, http.StatusNotFound, "Authentication is disabled", nil)
		return
	}

	var req struct {
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	token, err := cs.authService.Login(req.Password)
	if err != nil {
		cs.respondWithError(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, token)
}

// handleLogout revokes the caller's bearer token.
func (cs *CompanionServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if token := bearerToken(r); token != "" {
		cs.authService.RevokeToken(token)
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}
