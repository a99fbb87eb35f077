package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// startWatcher initializes fsnotify monitoring of the media library (so the
// probed durations stay current) and the subtitle directory (so new tracks
// show up in listings without a restart).
func (cs *CompanionServer) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cs.watcher = watcher

	go cs.watchFiles()

	if cs.config.Library.WatchForChanges {
		if err := cs.addDirectoryToWatcher(cs.config.Library.Path); err != nil {
			cs.logger.WithError(err).Warn("Could not watch media library")
		} else {
			cs.logger.WithField("path", cs.config.Library.Path).Info("Watching media library")
		}
	}

	if cs.config.Subtitles.WatchForChanges {
		if err := cs.addDirectoryToWatcher(cs.config.Subtitles.Dir); err != nil {
			cs.logger.WithError(err).Warn("Could not watch subtitle directory")
		} else {
			cs.logger.WithField("path", cs.config.Subtitles.Dir).Info("Watching subtitle directory")
		}
	}

	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func (cs *CompanionServer) addDirectoryToWatcher(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return cs.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (cs *CompanionServer) watchFiles() {
	defer cs.watcher.Close()

	for {
		select {
		case event, ok := <-cs.watcher.Events:
			if !ok {
				return
			}
			cs.handleFileEvent(event)

		case err, ok := <-cs.watcher.Errors:
			if !ok {
				return
			}
			cs.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent applies filtering & delegates creation/removal actions.
func (cs *CompanionServer) handleFileEvent(event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	isMediaFile := cs.prober.IsMediaFile(event.Name)
	isSubtitle := strings.EqualFold(filepath.Ext(event.Name), ".srt")

	switch {
	case event.Has(fsnotify.Create) && isMediaFile:
		go func(name string) {
			time.Sleep(500 * time.Millisecond) // Ensure file is fully written
			cs.handleNewMediaFile(name)
		}(event.Name)

	case event.Has(fsnotify.Remove) && isMediaFile:
		go cs.handleRemovedMediaFile(event.Name)

	case (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isSubtitle:
		cs.logger.WithField("path", event.Name).Info("Subtitle track added or updated")

	case event.Has(fsnotify.Create):
		// Check if it's a new directory
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			cs.watcher.Add(event.Name)
			cs.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// handleNewMediaFile probes & stores new library files if unseen.
func (cs *CompanionServer) handleNewMediaFile(filePath string) {
	if cs.db == nil {
		return
	}

	cs.logger.WithField("file_path", filePath).Info("New media file detected")

	exists, err := cs.db.MediaFileExists(filePath)
	if err != nil {
		cs.logger.WithError(err).WithField("file_path", filePath).Error("Error checking if media file exists")
		return
	}
	if exists {
		cs.logger.WithField("file_path", filePath).Debug("Media file already known")
		return
	}

	media, err := cs.prober.ProbeFile(filePath, 0, "")
	if err != nil {
		cs.logger.WithError(err).WithField("file_path", filePath).Error("Error probing media file")
		return
	}

	if err := cs.db.UpsertMediaFile(media); err != nil {
		cs.logger.WithError(err).Error("Error storing new media file")
		return
	}

	cs.logger.WithFields(logrus.Fields{
		"title":    media.Title,
		"itemId":   media.ItemID,
		"duration": media.Duration,
	}).Info("Added media file")
}

// handleRemovedMediaFile drops rows referencing deleted library files.
func (cs *CompanionServer) handleRemovedMediaFile(filePath string) {
	if cs.db == nil {
		return
	}

	cs.logger.WithField("file_path", filePath).Info("Media file removed")

	if err := cs.db.RemoveMediaFileByPath(filePath); err != nil {
		cs.logger.WithError(err).WithField("file_path", filePath).Error("Error removing media file from database")
	}
}

// stopWatcher closes the watcher (idempotent).
func (cs *CompanionServer) stopWatcher() {
	if cs.watcher != nil {
		cs.watcher.Close()
	}
}
