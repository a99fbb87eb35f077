package server

import (
	"net/http"
	"os"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Subtitles string                 `json:"subtitles"`
	Sessions  int                    `json:"activeSessions"`
	Progress  int                    `json:"progressRecords"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (cs *CompanionServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Subtitles: "ok",
		Sessions:  len(cs.sessions.GetAllSessions()),
		Progress:  cs.tracker.Count(),
		Details:   make(map[string]interface{}),
	}

	if cs.db != nil {
		if err := cs.db.Ping(); err != nil {
			health.Status = "unhealthy"
			health.Database = "error"
			health.Details["database_error"] = err.Error()
		}
	} else {
		health.Database = "memory-only"
	}

	if _, err := os.Stat(cs.config.Subtitles.Dir); err != nil {
		health.Subtitles = "missing"
		health.Details["subtitles_error"] = err.Error()
	}

	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	cs.respondJSON(w, health)
}
