package server

import (
	"net/http"
	"strings"

	"intermezzo/internal/metadata"
)

// handleImage serves a remote image through the cache: GET /api/image?url=
func (cs *CompanionServer) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	url := r.URL.Query().Get("url")
	if vErr := validateURL(url); vErr != nil {
		cs.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	data, err := cs.images.Load(r.Context(), url)
	if err != nil {
		cs.respondWithError(w, r, http.StatusBadGateway, "Image fetch failed", err)
		return
	}

	w.Header().Set("Content-Type", metadata.ArtworkMimeType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// handleArtwork serves probed embedded artwork: GET /artwork/{id}
func (cs *CompanionServer) handleArtwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	artID := strings.TrimPrefix(r.URL.Path, "/artwork/")
	if artID == "" || strings.Contains(artID, "/") {
		cs.respondWithError(w, r, http.StatusBadRequest, "Invalid artwork ID", nil)
		return
	}

	data, ok := cs.images.Get(metadata.ArtworkKey(artID))
	if !ok {
		cs.respondWithError(w, r, http.StatusNotFound, "Artwork not found", nil)
		return
	}

	w.Header().Set("Content-Type", metadata.ArtworkMimeType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// handleCacheClear empties the memory tier: POST /api/cache/clear
func (cs *CompanionServer) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	cs.images.Clear()
	cs.logger.Info("Image cache cleared")

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}

// handleCachePressure simulates a low-memory event: POST /api/cache/pressure
func (cs *CompanionServer) handleCachePressure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if cs.monitor != nil {
		cs.monitor.Fire()
	} else {
		cs.images.HandleMemoryPressure()
	}
	cs.logger.Warn("Manual memory pressure purge triggered")

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]bool{"success": true})
}

// handleCacheStats reports the memory tier's current footprint.
func (cs *CompanionServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cs.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	cs.respondJSON(w, map[string]interface{}{
		"entries": cs.images.Size(),
		"bytes":   cs.images.Bytes(),
	})
}
