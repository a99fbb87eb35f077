package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"intermezzo/internal/subtitles"
)

// handleListSubtitles lists the subtitle tracks on disk for item+filename.
func (cs *CompanionServer) handleListSubtitles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	itemID := sanitizeInput(r.URL.Query().Get("item"))
	filename := sanitizeInput(r.URL.Query().Get("filename"))

	var errs []ValidationError
	if vErr := validateItemID(itemID); vErr != nil {
		errs = append(errs, *vErr)
	}
	if vErr := validateFilename(filename); vErr != nil {
		errs = append(errs, *vErr)
	}
	if len(errs) > 0 {
		cs.respondWithValidationError(w, r, errs)
		return
	}

	tracks, err := subtitles.ListTracks(cs.config.Subtitles.Dir, itemID, filename)
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error listing subtitle tracks", err)
		return
	}
	if tracks == nil {
		tracks = []subtitles.TrackInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, tracks)
}

// handleSelectSubtitles loads an SRT track from disk and swaps its cues into
// the session's scheduler. An empty label turns subtitles off.
func (cs *CompanionServer) handleSelectSubtitles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
		ItemID    string `json:"itemId"`
		Filename  string `json:"filename"`
		Label     string `json:"label"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if cs.sessions.GetSession(req.SessionID) == nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
		return
	}

	if req.Label == "" {
		cs.sessions.ClearSubtitles(req.SessionID)
		w.Header().Set("Content-Type", "application/json")
		cs.respondJSON(w, map[string]bool{"success": true})
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
	if len(errs) > 0 {
		cs.respondWithValidationError(w, r, errs)
		return
	}

	path := subtitles.TrackPath(cs.config.Subtitles.Dir, req.ItemID, req.Filename, req.Label)
	cues, err := subtitles.LoadSRTFile(path)
	if err != nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Subtitle track not found", err)
		return
	}

	cs.sessions.SelectSubtitles(req.SessionID, req.Label, cues)

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]interface{}{
		"success": true,
		"cues":    len(cues),
	})
}

// handleCurrentCue returns the session's active cue, if any.
func (cs *CompanionServer) handleCurrentCue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	s := cs.sessions.GetSession(r.URL.Query().Get("session"))
	if s == nil {
		cs.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if cue, ok := s.Scheduler.Current(); ok {
		cs.respondJSON(w, map[string]interface{}{"active": true, "cue": cue})
		return
	}
	cs.respondJSON(w, map[string]interface{}{"active": false})
}

// handleImportSubtitles starts a background download of a subtitle file.
func (cs *CompanionServer) handleImportSubtitles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		URL      string `json:"url"`
		ItemID   string `json:"itemId"`
		Filename string `json:"filename"`
		Label    string `json:"label"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	req.ItemID = sanitizeInput(req.ItemID)
	req.Filename = sanitizeInput(req.Filename)
	req.Label = sanitizeInput(req.Label)

	var errs []ValidationError
	if vErr := validateURL(req.URL); vErr != nil {
		errs = append(errs, *vErr)
	}
	if vErr := validateItemID(req.ItemID); vErr != nil {
		errs = append(errs, *vErr)
	}
	if vErr := validateFilename(req.Filename); vErr != nil {
		errs = append(errs, *vErr)
	}
	if len(errs) > 0 {
		cs.respondWithValidationError(w, r, errs)
		return
	}

	job, err := cs.importer.Import(req.URL, req.ItemID, req.Filename, req.Label)
	if err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Could not start import", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	cs.respondJSON(w, job)
}

// handleImportJobs lists import jobs; /api/subtitles/imports?id= narrows to one.
func (cs *CompanionServer) handleImportJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		job, ok := cs.importer.GetJob(id)
		if !ok {
			cs.respondWithError(w, r, http.StatusNotFound, "Import job not found", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		cs.respondJSON(w, job)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, cs.importer.GetAllJobs())
}
