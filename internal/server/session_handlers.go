package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"intermezzo/pkg/models"
)

// handleSessions creates a session (POST) or lists the active ones (GET).
func (cs *CompanionServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		cs.handleCreateSession(w, r)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		cs.respondJSON(w, cs.sessions.GetAllSessions())
	default:
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

func (cs *CompanionServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   string  `json:"itemId"`
		Filename string  `json:"filename"`
		Kind     string  `json:"kind"`
		Duration float64 `json:"duration,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	req.ItemID = sanitizeInput(req.ItemID)
	req.Filename = sanitizeInput(req.Filename)

	var errs []ValidationError
	if vErr := validateItemID(req.ItemID); vErr != nil {
		errs = append(errs, *vErr)
	}
	if vErr := validateFilename(req.Filename); vErr != nil {
		errs = append(errs, *vErr)
	}
	kind := models.MediaKind(req.Kind)
	if !kind.IsValid() {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: "Kind must be \"video\" or \"audio\"",
			Code:    "INVALID_KIND",
		})
	}
	if len(errs) > 0 {
		cs.respondWithValidationError(w, r, errs)
		return
	}

	// Prefer the probed duration over whatever the client guessed.
	duration := req.Duration
	if cs.db != nil {
		if media, err := cs.db.GetMediaFile(req.ItemID, req.Filename); err == nil && media != nil && media.Duration > 0 {
			duration = media.Duration
		}
	}

	s := cs.sessions.CreateSession(req.ItemID, req.Filename, kind, duration, r.UserAgent(), r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	cs.respondJSON(w, map[string]interface{}{
		"id":       s.ID,
		"position": s.State.PlaybackPosition(),
		"duration": s.State.GetState().Duration,
	})
}

// handleSessionByID routes /api/sessions/{id}: GET reads, DELETE closes.
func (cs *CompanionServer) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid session ID", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s := cs.sessions.GetSession(sessionID)
		if s == nil {
			cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		cs.respondJSON(w, map[string]interface{}{
			"session": s,
			"state":   s.State.GetState(),
		})

	case http.MethodDelete:
		if !cs.sessions.CloseSession(sessionID) {
			cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		cs.respondJSON(w, map[string]bool{"success": true})

	default:
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

// handlePlayerUpdate records a position/playing report for a session.
func (cs *CompanionServer) handlePlayerUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		SessionID string   `json:"sessionId"`
		Position  *float64 `json:"position,omitempty"`
		Duration  *float64 `json:"duration,omitempty"`
		IsPlaying *bool    `json:"isPlaying,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	s := cs.sessions.GetSession(req.SessionID)
	if s == nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
		return
	}

	state := s.State.GetState()
	position := state.Position
	duration := 0.0
	isPlaying := state.IsPlaying

	if req.Position != nil {
		if vErr := validatePosition(*req.Position); vErr != nil {
			cs.respondWithValidationError(w, r, []ValidationError{*vErr})
			return
		}
		position = *req.Position
	}
	if req.Duration != nil {
		if vErr := validateDuration(*req.Duration); vErr != nil {
			cs.respondWithValidationError(w, r, []ValidationError{*vErr})
			return
		}
		duration = *req.Duration
	}
	if req.IsPlaying != nil {
		isPlaying = *req.IsPlaying
	}

	cs.sessions.ReportState(req.SessionID, position, duration, isPlaying)

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]interface{}{
		"success":  true,
		"position": s.State.PlaybackPosition(),
	})
}

// handlePlayerState returns the interpolated state for a session.
func (cs *CompanionServer) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	s := cs.sessions.GetSession(r.URL.Query().Get("session"))
	if s == nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
		return
	}

	state := s.State.GetState()
	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]interface{}{
		"state":    state,
		"position": s.State.PlaybackPosition(),
	})
}
