package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"intermezzo/pkg/models"
)

// handleProgress serves single-record progress operations:
// GET reads, POST/PUT saves, DELETE removes.
func (cs *CompanionServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cs.handleGetProgress(w, r)
	case http.MethodPost, http.MethodPut:
		cs.handleSaveProgress(w, r)
	case http.MethodDelete:
		cs.handleDeleteProgress(w, r)
	default:
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

// handleGetProgress returns the record for item+filename, or the most recent
// record for the item when no filename is given.
func (cs *CompanionServer) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	itemID := sanitizeInput(r.URL.Query().Get("item"))
	filename := sanitizeInput(r.URL.Query().Get("filename"))

	if vErr := validateItemID(itemID); vErr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	var rec models.PlaybackProgress
	var found bool
	if filename != "" {
		rec, found = cs.tracker.GetProgress(itemID, filename)
	} else {
		rec, found = cs.tracker.GetItemProgress(itemID)
	}

	if !found {
		cs.respondWithError(w, r, http.StatusNotFound, "No progress for item", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, rec)
}

// handleSaveProgress records a position report. The duration is validated
// here; the tracker trusts it.
func (cs *CompanionServer) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID     string  `json:"itemId"`
		Filename   string  `json:"filename"`
		Position   float64 `json:"position"`
		Duration   float64 `json:"duration"`
		Kind       string  `json:"kind"`
		Title      string  `json:"title,omitempty"`
		Thumbnail  string  `json:"thumbnail,omitempty"`
		TrackIndex int     `json:"trackIndex,omitempty"`
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
	if vErr := validatePosition(req.Position); vErr != nil {
		errs = append(errs, *vErr)
	}
	if vErr := validateDuration(req.Duration); vErr != nil {
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

	rec := models.PlaybackProgress{
		ItemID:      req.ItemID,
		Filename:    req.Filename,
		Position:    req.Position,
		Duration:    req.Duration,
		Kind:        kind,
		LastWatched: time.Now(),
		Title:       sanitizeInput(req.Title),
		Thumbnail:   sanitizeInput(req.Thumbnail),
		TrackIndex:  req.TrackIndex,
	}

	// Enrich from the probed library when the client didn't send a title.
	if rec.Title == "" && cs.db != nil {
		if media, err := cs.db.GetMediaFile(rec.ItemID, rec.Filename); err == nil && media != nil {
			rec.Title = media.Title
			if media.HasArtwork {
				rec.Thumbnail = "/artwork/" + media.ArtworkID
			}
		}
	}

	cs.tracker.SaveProgress(rec)

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}

// handleDeleteProgress removes the record for item+filename, or every record
// for the item when no filename is given.
func (cs *CompanionServer) handleDeleteProgress(w http.ResponseWriter, r *http.Request) {
	itemID := sanitizeInput(r.URL.Query().Get("item"))
	filename := sanitizeInput(r.URL.Query().Get("filename"))

	if vErr := validateItemID(itemID); vErr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	if filename != "" {
		cs.tracker.RemoveProgress(itemID, filename)
	} else {
		cs.tracker.RemoveItemProgress(itemID)
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}

// handleContinueWatching returns partially watched videos, most recent first.
func (cs *CompanionServer) handleContinueWatching(w http.ResponseWriter, r *http.Request) {
	cs.handleContinueRows(w, r, cs.tracker.ContinueWatching)
}

// handleContinueListening returns partially played audio, most recent first.
func (cs *CompanionServer) handleContinueListening(w http.ResponseWriter, r *http.Request) {
	cs.handleContinueRows(w, r, cs.tracker.ContinueListening)
}

func (cs *CompanionServer) handleContinueRows(w http.ResponseWriter, r *http.Request, rows func(int) []models.PlaybackProgress) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	limit, vErr := validateLimit(r.URL.Query().Get("limit"))
	if vErr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	list := rows(limit)
	if list == nil {
		list = []models.PlaybackProgress{}
	}

	// Warm the cache for the thumbnails the client is about to request.
	urls := make([]string, 0, len(list))
	for _, rec := range list {
		if strings.HasPrefix(rec.Thumbnail, "http") {
			urls = append(urls, rec.Thumbnail)
		}
	}
	if len(urls) > 0 {
		// Request context would cancel the background fetches on return.
		cs.images.Prefetch(context.Background(), urls)
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, list)
}

// handleClearProgress wipes all progress records.
func (cs *CompanionServer) handleClearProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	cs.tracker.ClearAll()

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}
