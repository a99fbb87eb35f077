package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"intermezzo/internal/auth"
	"intermezzo/internal/config"
	"intermezzo/internal/database"
	"intermezzo/internal/imagecache"
	"intermezzo/internal/metadata"
	"intermezzo/internal/ngrok"
	"intermezzo/internal/progress"
	"intermezzo/internal/session"
	"intermezzo/internal/subtitles"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// CompanionServer is the resume/subtitle companion for a home media library:
// it keeps playback progress, schedules subtitle cues for active sessions and
// fronts artwork/image loads with a memory cache.
type CompanionServer struct {
	config       *config.Config
	db           *database.Database
	tracker      *progress.Tracker
	janitor      *progress.Janitor
	sessions     *session.Manager
	importer     *subtitles.Importer
	images       *imagecache.Cache
	monitor      *imagecache.PressureMonitor
	prober       *metadata.Prober
	authService  *auth.Service
	ngrokService *ngrok.Service
	watcher      *fsnotify.Watcher
	logger       *logrus.Logger
	mux          *http.ServeMux
	httpServer   *http.Server
}

// NewCompanionServer wires the server from its parts. db may be nil for a
// memory-only tracker (used in tests).
func NewCompanionServer(cfg *config.Config, db *database.Database, logger *logrus.Logger) (*CompanionServer, error) {
	var store progress.Store
	if db != nil {
		store = db
	}
	tracker := progress.NewTracker(store, logger)

	var pruner progress.Pruner
	if db != nil {
		pruner = db
	}
	janitor := progress.NewJanitor(tracker, pruner, cfg.Progress.RetentionDays, logger)

	fetcher := imagecache.NewHTTPFetcher(time.Duration(cfg.Images.FetchTimeout) * time.Second)
	images := imagecache.NewCache(fetcher,
		int64(cfg.Images.MemoryLimitMB)<<20,
		int64(cfg.Images.MemoryTrimTargetMB)<<20,
		cfg.Images.PrefetchConcurrency)

	var monitor *imagecache.PressureMonitor
	if cfg.Images.MonitorPressure {
		monitor = imagecache.NewPressureMonitor(uint64(cfg.Images.HeapLimitMB)<<20, 30*time.Second, logger)
		monitor.OnPressure(images.HandleMemoryPressure)
	}

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	server := &CompanionServer{
		config:       cfg,
		db:           db,
		tracker:      tracker,
		janitor:      janitor,
		sessions:     session.NewManager(tracker, time.Duration(cfg.Progress.AutosaveInterval)*time.Second, logger),
		importer:     subtitles.NewImporter(cfg.Subtitles.Dir, cfg.Subtitles.MaxConcurrent, logger),
		images:       images,
		monitor:      monitor,
		prober:       metadata.NewProber(cfg.Library.SupportedFormats, images),
		authService:  authService,
		ngrokService: ngrokSvc,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	server.setupRoutes()

	return server, nil
}

// ScanLibrary probes the media library and persists what it finds, so
// progress saves validate against real durations.
func (cs *CompanionServer) ScanLibrary() error {
	if cs.db == nil || !cs.config.Library.ScanOnStartup {
		cs.logger.Info("Skipping library scan (disabled in config)")
		return nil
	}

	cs.logger.WithField("path", cs.config.Library.Path).Info("Scanning media library")

	var wg sync.WaitGroup
	var fileCount int64
	jobs := make(chan string, 100)

	numWorkers := runtime.NumCPU()
	for i := 0; i < numWorkers; i++ {
		go func() {
			for path := range jobs {
				media, err := cs.prober.ProbeFile(path, 0, "")
				if err != nil {
					cs.logger.WithError(err).WithField("path", path).Error("Failed to probe media file")
					wg.Done()
					continue
				}
				if err := cs.db.UpsertMediaFile(media); err != nil {
					cs.logger.WithError(err).WithField("path", path).Error("Failed to store media file")
				} else {
					atomic.AddInt64(&fileCount, 1)
				}
				wg.Done()
			}
		}()
	}

	walkErr := filepath.Walk(cs.config.Library.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cs.prober.IsMediaFile(path) {
			wg.Add(1)
			jobs <- path
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	cs.logger.WithField("count", fileCount).Info("Library scan complete")
	return walkErr
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (cs *CompanionServer) Start() error {
	if cs.config.Library.WatchForChanges || cs.config.Subtitles.WatchForChanges {
		if err := cs.startWatcher(); err != nil {
			cs.logger.WithError(err).Warn("Could not start file watcher")
		}
	}

	if cs.monitor != nil {
		cs.monitor.Start()
	}

	if err := cs.janitor.Start(cs.config.Progress.RetentionSchedule); err != nil {
		cs.logger.WithError(err).Warn("Could not start retention janitor")
	}

	localAddress := fmt.Sprintf("http://%s", cs.config.GetAddress())
	cs.logger.WithFields(logrus.Fields{
		"address":  localAddress,
		"progress": cs.tracker.Count(),
	}).Info("Companion server starting")

	if cs.ngrokService != nil {
		if err := cs.ngrokService.StartTunnel(context.Background(), localAddress); err != nil {
			cs.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	cs.httpServer = &http.Server{
		Addr:        cs.config.GetAddress(),
		Handler:     cs.buildHandler(),
		ReadTimeout: time.Duration(cs.config.Server.ReadTimeout) * time.Second,
	}

	if err := cs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildHandler wraps the mux in the middleware chain.
func (cs *CompanionServer) buildHandler() http.Handler {
	var handler http.Handler = cs.mux
	handler = cs.authMiddleware(handler)
	handler = cs.corsMiddleware(handler)
	handler = cs.requestLoggingMiddleware(handler)
	handler = cs.panicRecoveryMiddleware(handler)
	return handler
}

func (cs *CompanionServer) setupRoutes() {
	cs.mux.HandleFunc("/health", cs.handleHealthCheck)

	// Progress routes
	cs.mux.HandleFunc("/api/progress", cs.handleProgress)
	cs.mux.HandleFunc("/api/progress/continue-watching", cs.handleContinueWatching)
	cs.mux.HandleFunc("/api/progress/continue-listening", cs.handleContinueListening)
	cs.mux.HandleFunc("/api/progress/clear", cs.handleClearProgress)

	// Playback session routes
	cs.mux.HandleFunc("/api/sessions", cs.handleSessions)
	cs.mux.HandleFunc("/api/sessions/", cs.handleSessionByID)
	cs.mux.HandleFunc("/api/player/update", cs.handlePlayerUpdate)
	cs.mux.HandleFunc("/api/player/state", cs.handlePlayerState)

	// Subtitle routes
	cs.mux.HandleFunc("/api/subtitles", cs.handleListSubtitles)
	cs.mux.HandleFunc("/api/subtitles/select", cs.handleSelectSubtitles)
	cs.mux.HandleFunc("/api/subtitles/current", cs.handleCurrentCue)
	cs.mux.HandleFunc("/api/subtitles/import", cs.handleImportSubtitles)
	cs.mux.HandleFunc("/api/subtitles/imports", cs.handleImportJobs)

	// Image cache routes
	cs.mux.HandleFunc("/api/image", cs.handleImage)
	cs.mux.HandleFunc("/artwork/", cs.handleArtwork)
	cs.mux.HandleFunc("/api/cache/clear", cs.handleCacheClear)
	cs.mux.HandleFunc("/api/cache/pressure", cs.handleCachePressure)
	cs.mux.HandleFunc("/api/cache/stats", cs.handleCacheStats)

	// Auth routes
	cs.mux.HandleFunc("/api/auth/login", cs.handleLogin)
	cs.mux.HandleFunc("/api/auth/logout", cs.handleLogout)
}

// Shutdown gracefully shuts down the companion server. Open sessions are
// closed so their final saves flush before the process exits.
func (cs *CompanionServer) Shutdown(ctx context.Context) {
	cs.logger.Info("Shutting down companion server...")

	if cs.httpServer != nil {
		if err := cs.httpServer.Shutdown(ctx); err != nil {
			cs.logger.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	cs.sessions.Close()
	cs.janitor.Stop()
	cs.stopWatcher()
	if cs.monitor != nil {
		cs.monitor.Stop()
	}
	if cs.ngrokService != nil {
		cs.ngrokService.Stop()
	}
	cs.authService.Close()

	cs.logger.Info("Companion server shutdown complete")
}
