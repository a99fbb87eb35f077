package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"intermezzo/internal/auth"
	"intermezzo/internal/config"
	"intermezzo/pkg/models"

	"github.com/sirupsen/logrus"
)

func createTestServer(t *testing.T) *CompanionServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Subtitles.Dir = t.TempDir()
	cfg.Library.Path = t.TempDir()
	cfg.Library.ScanOnStartup = false
	cfg.Library.WatchForChanges = false
	cfg.Subtitles.WatchForChanges = false
	cfg.Images.MonitorPressure = false
	cfg.Auth.Enabled = false
	cfg.Ngrok.Enabled = false
	cfg.Logging.RequestLogging = false

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel) // Reduce noise in tests

	cs, err := NewCompanionServer(cfg, nil, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { cs.Shutdown(context.Background()) })

	return cs
}

func doJSON(t *testing.T, cs *CompanionServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	cs.buildHandler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body %q: %v", rec.Body.String(), err)
	}
}

func TestProgressEndpoints(t *testing.T) {
	t.Run("SaveThenGetRoundTrip", func(t *testing.T) {
		cs := createTestServer(t)

		rec := doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId":   "show-1",
			"filename": "e01.mkv",
			"position": 300.5,
			"duration": 1200.0,
			"kind":     "video",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Save returned %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, cs, http.MethodGet, "/api/progress?item=show-1&filename=e01.mkv", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Get returned %d: %s", rec.Code, rec.Body.String())
		}
		var got models.PlaybackProgress
		decodeBody(t, rec, &got)
		if got.Position != 300.5 || got.Duration != 1200 {
			t.Errorf("Unexpected record: %+v", got)
		}
	})

	t.Run("InvalidDurationRejected", func(t *testing.T) {
		cs := createTestServer(t)

		rec := doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId":   "show-1",
			"filename": "e01.mkv",
			"position": 10.0,
			"duration": -5.0,
			"kind":     "video",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400 for negative duration, got %d", rec.Code)
		}
	})

	t.Run("InvalidKindRejected", func(t *testing.T) {
		cs := createTestServer(t)

		rec := doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId":   "show-1",
			"filename": "e01.mkv",
			"position": 10.0,
			"duration": 100.0,
			"kind":     "podcast",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400 for unknown kind, got %d", rec.Code)
		}
	})

	t.Run("NearCompletionSaveReturnsNotFoundOnGet", func(t *testing.T) {
		cs := createTestServer(t)

		doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId":   "show-1",
			"filename": "e01.mkv",
			"position": 1190.0,
			"duration": 1200.0,
			"kind":     "video",
		})

		rec := doJSON(t, cs, http.MethodGet, "/api/progress?item=show-1&filename=e01.mkv", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected 404 after completing save, got %d", rec.Code)
		}
	})

	t.Run("ContinueWatchingFiltersKind", func(t *testing.T) {
		cs := createTestServer(t)

		doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId": "show-1", "filename": "e01.mkv",
			"position": 300.0, "duration": 1200.0, "kind": "video",
		})
		doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
			"itemId": "album-1", "filename": "t01.mp3",
			"position": 60.0, "duration": 240.0, "kind": "audio",
		})

		rec := doJSON(t, cs, http.MethodGet, "/api/progress/continue-watching", nil)
		var watching []models.PlaybackProgress
		decodeBody(t, rec, &watching)
		if len(watching) != 1 || watching[0].ItemID != "show-1" {
			t.Errorf("Unexpected continue-watching rows: %+v", watching)
		}

		rec = doJSON(t, cs, http.MethodGet, "/api/progress/continue-listening", nil)
		var listening []models.PlaybackProgress
		decodeBody(t, rec, &listening)
		if len(listening) != 1 || listening[0].ItemID != "album-1" {
			t.Errorf("Unexpected continue-listening rows: %+v", listening)
		}
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		cs := createTestServer(t)

		for i := 0; i < 3; i++ {
			doJSON(t, cs, http.MethodPost, "/api/progress", map[string]interface{}{
				"itemId": "show-1", "filename": fmt.Sprintf("e%02d.mkv", i),
				"position": 300.0, "duration": 1200.0, "kind": "video",
			})
		}

		rec := doJSON(t, cs, http.MethodDelete, "/api/progress?item=show-1&filename=e00.mkv", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Delete returned %d", rec.Code)
		}
		if cs.tracker.Count() != 2 {
			t.Errorf("Expected 2 records after delete, got %d", cs.tracker.Count())
		}

		rec = doJSON(t, cs, http.MethodPost, "/api/progress/clear", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Clear returned %d", rec.Code)
		}
		if cs.tracker.Count() != 0 {
			t.Errorf("Expected empty tracker after clear, got %d", cs.tracker.Count())
		}
	})
}

func TestSessionEndpoints(t *testing.T) {
	createSession := func(t *testing.T, cs *CompanionServer) string {
		rec := doJSON(t, cs, http.MethodPost, "/api/sessions", map[string]interface{}{
			"itemId":   "show-1",
			"filename": "e01.mkv",
			"kind":     "video",
			"duration": 1200.0,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Create session returned %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			ID string `json:"id"`
		}
		decodeBody(t, rec, &resp)
		if resp.ID == "" {
			t.Fatal("Expected a session ID")
		}
		return resp.ID
	}

	t.Run("CreateUpdateState", func(t *testing.T) {
		cs := createTestServer(t)
		id := createSession(t, cs)

		rec := doJSON(t, cs, http.MethodPost, "/api/player/update", map[string]interface{}{
			"sessionId": id,
			"position":  450.0,
			"isPlaying": false,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Update returned %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, cs, http.MethodGet, "/api/player/state?session="+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("State returned %d", rec.Code)
		}
		var resp struct {
			Position float64 `json:"position"`
		}
		decodeBody(t, rec, &resp)
		if resp.Position != 450 {
			t.Errorf("Expected position 450, got %v", resp.Position)
		}
	})

	t.Run("CloseSavesProgress", func(t *testing.T) {
		cs := createTestServer(t)
		id := createSession(t, cs)

		doJSON(t, cs, http.MethodPost, "/api/player/update", map[string]interface{}{
			"sessionId": id,
			"position":  450.0,
		})

		rec := doJSON(t, cs, http.MethodDelete, "/api/sessions/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Close returned %d", rec.Code)
		}

		if _, ok := cs.tracker.GetProgress("show-1", "e01.mkv"); !ok {
			t.Error("Expected progress record after session close")
		}
	})

	t.Run("UnknownSessionIs404", func(t *testing.T) {
		cs := createTestServer(t)

		rec := doJSON(t, cs, http.MethodGet, "/api/player/state?session=nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
		rec = doJSON(t, cs, http.MethodDelete, "/api/sessions/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
	})
}

func TestSubtitleEndpoints(t *testing.T) {
	const sampleSRT = `1
00:00:01,000 --> 00:00:03,000
hello

2
00:00:04,000 --> 00:00:06,000
world
`

	writeTrack := func(t *testing.T, cs *CompanionServer, itemID, filename, label string) {
		t.Helper()
		dir := filepath.Join(cs.config.Subtitles.Dir, itemID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create subtitle dir: %v", err)
		}
		name := "e01." + label + ".srt"
		if label == "" {
			name = "e01.srt"
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(sampleSRT), 0o644); err != nil {
			t.Fatalf("Failed to write subtitle file: %v", err)
		}
	}

	t.Run("ListTracks", func(t *testing.T) {
		cs := createTestServer(t)
		writeTrack(t, cs, "show-1", "e01.mkv", "english")
		writeTrack(t, cs, "show-1", "e01.mkv", "")

		rec := doJSON(t, cs, http.MethodGet, "/api/subtitles?item=show-1&filename=e01.mkv", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("List returned %d: %s", rec.Code, rec.Body.String())
		}
		var tracks []struct {
			Label string `json:"label"`
		}
		decodeBody(t, rec, &tracks)
		if len(tracks) != 2 {
			t.Fatalf("Expected 2 tracks, got %+v", tracks)
		}
	})

	t.Run("SelectLoadsCuesIntoSession", func(t *testing.T) {
		cs := createTestServer(t)
		writeTrack(t, cs, "show-1", "e01.mkv", "english")

		rec := doJSON(t, cs, http.MethodPost, "/api/sessions", map[string]interface{}{
			"itemId": "show-1", "filename": "e01.mkv", "kind": "video", "duration": 1200.0,
		})
		var created struct {
			ID string `json:"id"`
		}
		decodeBody(t, rec, &created)

		rec = doJSON(t, cs, http.MethodPost, "/api/subtitles/select", map[string]interface{}{
			"sessionId": created.ID,
			"itemId":    "show-1",
			"filename":  "e01.mkv",
			"label":     "english",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Select returned %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Cues int `json:"cues"`
		}
		decodeBody(t, rec, &resp)
		if resp.Cues != 2 {
			t.Errorf("Expected 2 cues loaded, got %d", resp.Cues)
		}
	})

	t.Run("SelectListedDefaultTrack", func(t *testing.T) {
		cs := createTestServer(t)
		writeTrack(t, cs, "show-1", "e01.mkv", "")

		rec := doJSON(t, cs, http.MethodGet, "/api/subtitles?item=show-1&filename=e01.mkv", nil)
		var tracks []struct {
			Label string `json:"label"`
		}
		decodeBody(t, rec, &tracks)
		if len(tracks) != 1 || tracks[0].Label != "default" {
			t.Fatalf("Expected the bare track listed as default, got %+v", tracks)
		}

		rec = doJSON(t, cs, http.MethodPost, "/api/sessions", map[string]interface{}{
			"itemId": "show-1", "filename": "e01.mkv", "kind": "video", "duration": 1200.0,
		})
		var created struct {
			ID string `json:"id"`
		}
		decodeBody(t, rec, &created)

		rec = doJSON(t, cs, http.MethodPost, "/api/subtitles/select", map[string]interface{}{
			"sessionId": created.ID,
			"itemId":    "show-1",
			"filename":  "e01.mkv",
			"label":     tracks[0].Label,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Selecting the listed default track returned %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Cues int `json:"cues"`
		}
		decodeBody(t, rec, &resp)
		if resp.Cues != 2 {
			t.Errorf("Expected 2 cues loaded, got %d", resp.Cues)
		}
	})

	t.Run("SelectMissingTrackIs404", func(t *testing.T) {
		cs := createTestServer(t)

		rec := doJSON(t, cs, http.MethodPost, "/api/sessions", map[string]interface{}{
			"itemId": "show-1", "filename": "e01.mkv", "kind": "video",
		})
		var created struct {
			ID string `json:"id"`
		}
		decodeBody(t, rec, &created)

		rec = doJSON(t, cs, http.MethodPost, "/api/subtitles/select", map[string]interface{}{
			"sessionId": created.ID,
			"itemId":    "show-1",
			"filename":  "e01.mkv",
			"label":     "klingon",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for missing track, got %d", rec.Code)
		}
	})
}

func TestImageEndpoints(t *testing.T) {
	t.Run("ImageServedThroughCache", func(t *testing.T) {
		cs := createTestServer(t)

		fetches := 0
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches++
			w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01})
		}))
		defer upstream.Close()

		url := upstream.URL + "/poster.jpg"
		for i := 0; i < 2; i++ {
			rec := doJSON(t, cs, http.MethodGet, "/api/image?url="+url, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Image returned %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("Expected image/jpeg, got %s", ct)
			}
		}
		if fetches != 1 {
			t.Errorf("Expected 1 upstream fetch, got %d", fetches)
		}
	})

	t.Run("FetchFailureIsBadGateway", func(t *testing.T) {
		cs := createTestServer(t)

		upstream := httptest.NewServer(http.NotFoundHandler())
		defer upstream.Close()

		rec := doJSON(t, cs, http.MethodGet, "/api/image?url="+upstream.URL+"/missing.jpg", nil)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("Expected 502, got %d", rec.Code)
		}
	})

	t.Run("PressurePurgesCache", func(t *testing.T) {
		cs := createTestServer(t)
		cs.images.Set("http://img/a.jpg", []byte{1, 2, 3})

		rec := doJSON(t, cs, http.MethodPost, "/api/cache/pressure", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Pressure returned %d", rec.Code)
		}
		if cs.images.Size() != 0 {
			t.Errorf("Expected empty cache after pressure, got %d entries", cs.images.Size())
		}
	})

	t.Run("StatsReportFootprint", func(t *testing.T) {
		cs := createTestServer(t)
		cs.images.Set("http://img/a.jpg", []byte{1, 2, 3})

		rec := doJSON(t, cs, http.MethodGet, "/api/cache/stats", nil)
		var stats struct {
			Entries int   `json:"entries"`
			Bytes   int64 `json:"bytes"`
		}
		decodeBody(t, rec, &stats)
		if stats.Entries != 1 || stats.Bytes != 3 {
			t.Errorf("Unexpected stats: %+v", stats)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := auth.HashPassword("open sesame")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Subtitles.Dir = t.TempDir()
	cfg.Library.Path = t.TempDir()
	cfg.Library.ScanOnStartup = false
	cfg.Library.WatchForChanges = false
	cfg.Subtitles.WatchForChanges = false
	cfg.Logging.RequestLogging = false
	cfg.Auth.Enabled = true
	cfg.Auth.PasswordHash = hash

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cs, err := NewCompanionServer(cfg, nil, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { cs.Shutdown(context.Background()) })

	t.Run("ProtectedRouteRejectsAnonymous", func(t *testing.T) {
		rec := doJSON(t, cs, http.MethodGet, "/api/progress/continue-watching", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("HealthIsPublic", func(t *testing.T) {
		rec := doJSON(t, cs, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("LoginThenBearerAccess", func(t *testing.T) {
		rec := doJSON(t, cs, http.MethodPost, "/api/auth/login", map[string]string{
			"password": "open sesame",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Login returned %d: %s", rec.Code, rec.Body.String())
		}
		var token struct {
			Value string `json:"token"`
		}
		decodeBody(t, rec, &token)

		req := httptest.NewRequest(http.MethodGet, "/api/progress/continue-watching", nil)
		req.Header.Set("Authorization", "Bearer "+token.Value)
		resp := httptest.NewRecorder()
		cs.buildHandler().ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Errorf("Expected 200 with bearer token, got %d", resp.Code)
		}
	})

	t.Run("WrongPasswordIs401", func(t *testing.T) {
		rec := doJSON(t, cs, http.MethodPost, "/api/auth/login", map[string]string{
			"password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})
}
