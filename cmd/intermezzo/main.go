package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intermezzo/internal/config"
	"intermezzo/internal/database"
	"intermezzo/internal/server"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load .env before config so environment overrides are visible
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			logger.WithError(err).Warn("Could not load .env file")
		}
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	configureLogger(logger, &cfg.Logging)

	// Check if media library exists
	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Fatal("Media library does not exist. Please create it and add your media files.")
	}

	// Make sure the subtitle directory exists
	if err := os.MkdirAll(cfg.Subtitles.Dir, 0o755); err != nil {
		logger.WithError(err).Fatal("Could not create subtitle directory")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer db.Close()

	// Create and configure the companion server
	companion, err := server.NewCompanionServer(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating companion server")
	}

	// Probe the media library
	if err := companion.ScanLibrary(); err != nil {
		logger.WithError(err).Fatal("Error scanning media library")
	}

	if cfg.Library.ScanOnStartup {
		files, err := db.GetAllMediaFiles()
		if err != nil {
			logger.WithError(err).Warn("Could not get media file count")
		} else if len(files) == 0 {
			logger.WithField("supported_formats", cfg.Library.SupportedFormats).Warn("No supported media files found in library")
		}
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := companion.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-c

	logger.Info("Received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	companion.Shutdown(ctx)
}

// configureLogger applies the configured level, format and output file.
func configureLogger(logger *logrus.Logger, cfg *config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithError(err).Warn("Could not open log file, using stderr")
		} else {
			logger.SetOutput(f)
		}
	}
}
