package subtitles

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImportStatus represents the status of a subtitle import job
type ImportStatus string

const (
	StatusPending     ImportStatus = "pending"
	StatusDownloading ImportStatus = "downloading"
	StatusCompleted   ImportStatus = "completed"
	StatusFailed      ImportStatus = "failed"
)

// ImportJob represents one subtitle file being fetched into the track dir
type ImportJob struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	ItemID      string       `json:"itemId"`
	Filename    string       `json:"filename"`
	Label       string       `json:"label"` // e.g. language or source name
	Status      ImportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	OutputPath  string       `json:"output_path,omitempty"`
	CueCount    int          `json:"cueCount,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Importer downloads subtitle files into the configured track directory.
// Downloads run in the background with bounded concurrency; callers poll the
// job by ID. A file only lands in the directory if it parses as SRT.
type Importer struct {
	dir     string
	client  *http.Client
	jobs    map[string]*ImportJob
	jobsMux sync.RWMutex
	sem     chan struct{}
	logger  *logrus.Logger
}

// NewImporter creates an importer writing into dir.
func NewImporter(dir string, maxConcurrent int, logger *logrus.Logger) *Importer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Importer{
		dir:    dir,
		client: &http.Client{Timeout: 60 * time.Second},
		jobs:   make(map[string]*ImportJob),
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

// Import starts a background download of url for the given progress key.
func (im *Importer) Import(url, itemID, filename, label string) (*ImportJob, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported subtitle URL scheme: %s", url)
	}
	if itemID == "" || filename == "" {
		return nil, fmt.Errorf("item and filename are required")
	}
	if label == "" {
		label = "imported"
	}

	job := &ImportJob{
		ID:        uuid.New().String(),
		URL:       url,
		ItemID:    itemID,
		Filename:  filename,
		Label:     label,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	im.jobsMux.Lock()
	im.jobs[job.ID] = job
	im.jobsMux.Unlock()

	// Start download in background
	go im.processImport(job)

	return job, nil
}

// processImport handles the actual download
func (im *Importer) processImport(job *ImportJob) {
	im.sem <- struct{}{}
	defer func() { <-im.sem }()

	im.updateJobStatus(job.ID, StatusDownloading, "", "", 0)

	resp, err := im.client.Get(job.URL)
	if err != nil {
		im.updateJobStatus(job.ID, StatusFailed, fmt.Sprintf("download failed: %v", err), "", 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		im.updateJobStatus(job.ID, StatusFailed, fmt.Sprintf("unexpected status: %s", resp.Status), "", 0)
		return
	}

	// 10 MB is far beyond any sane subtitle file
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		im.updateJobStatus(job.ID, StatusFailed, fmt.Sprintf("read failed: %v", err), "", 0)
		return
	}

	// Reject files that don't parse before they can pollute the track dir
	cues, err := ParseSRT(strings.NewReader(string(body)))
	if err != nil || len(cues) == 0 {
		im.updateJobStatus(job.ID, StatusFailed, "downloaded file is not valid SRT", "", 0)
		return
	}

	outPath := TrackPath(im.dir, job.ItemID, job.Filename, job.Label)
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		im.updateJobStatus(job.ID, StatusFailed, fmt.Sprintf("could not create track dir: %v", err), "", 0)
		return
	}
	if err := os.WriteFile(outPath, body, 0644); err != nil {
		im.updateJobStatus(job.ID, StatusFailed, fmt.Sprintf("could not write track: %v", err), "", 0)
		return
	}

	im.updateJobStatus(job.ID, StatusCompleted, "", outPath, len(cues))
	im.logger.WithFields(logrus.Fields{
		"url":  job.URL,
		"path": outPath,
		"cues": len(cues),
	}).Info("Imported subtitle track")
}

// updateJobStatus mutates one job under the lock.
func (im *Importer) updateJobStatus(id string, status ImportStatus, errMsg, outputPath string, cueCount int) {
	im.jobsMux.Lock()
	defer im.jobsMux.Unlock()

	job, exists := im.jobs[id]
	if !exists {
		return
	}

	job.Status = status
	job.Error = errMsg
	if outputPath != "" {
		job.OutputPath = outputPath
	}
	if cueCount > 0 {
		job.CueCount = cueCount
	}
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		job.CompletedAt = &now
	}
}

// GetJob returns a copy of the job with the given ID.
func (im *Importer) GetJob(id string) (ImportJob, bool) {
	im.jobsMux.RLock()
	defer im.jobsMux.RUnlock()

	job, exists := im.jobs[id]
	if !exists {
		return ImportJob{}, false
	}
	return *job, true
}

// GetAllJobs returns all jobs, newest first.
func (im *Importer) GetAllJobs() []ImportJob {
	im.jobsMux.RLock()
	jobs := make([]ImportJob, 0, len(im.jobs))
	for _, job := range im.jobs {
		jobs = append(jobs, *job)
	}
	im.jobsMux.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}
