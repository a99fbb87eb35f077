package session

import (
	"sync"
	"time"

	"intermezzo/internal/player"
	"intermezzo/internal/progress"
	"intermezzo/internal/subtitles"
	"intermezzo/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PlaybackSession is one client playing one file. It owns the playback state,
// a subtitle scheduler driven by the interpolated position, and an autosave
// loop that samples the position into the progress tracker.
type PlaybackSession struct {
	ID            string    `json:"id"`
	UserAgent     string    `json:"userAgent"`
	IPAddress     string    `json:"ipAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	SubtitleLabel string    `json:"subtitleLabel,omitempty"`

	State     *player.StateManager `json:"-"`
	Scheduler *subtitles.Scheduler `json:"-"`

	stopAutosave chan struct{}
	stopOnce     sync.Once
}

// Manager tracks the active playback sessions. Sessions that stop reporting
// are closed by the background sweep, which runs the same teardown as an
// explicit close: scheduler stop, final progress save.
type Manager struct {
	sessions         map[string]*PlaybackSession
	mutex            sync.RWMutex
	tracker          *progress.Tracker
	autosaveInterval time.Duration
	activityTimeout  time.Duration
	stopChan         chan struct{}
	stopOnce         sync.Once
	logger           *logrus.Logger
}

// NewManager creates a session manager. autosaveInterval is how often each
// session samples its position into the tracker.
func NewManager(tracker *progress.Tracker, autosaveInterval time.Duration, logger *logrus.Logger) *Manager {
	if autosaveInterval <= 0 {
		autosaveInterval = 10 * time.Second
	}

	m := &Manager{
		sessions:         make(map[string]*PlaybackSession),
		tracker:          tracker,
		autosaveInterval: autosaveInterval,
		activityTimeout:  5 * time.Minute,
		stopChan:         make(chan struct{}),
		logger:           logger,
	}

	go m.sweepLoop()

	return m
}

// CreateSession starts a playback session for one item/file pair.
func (m *Manager) CreateSession(itemID, filename string, kind models.MediaKind, duration float64, userAgent, ipAddress string) *PlaybackSession {
	state := player.NewStateManager(itemID, filename, kind, duration)

	s := &PlaybackSession{
		ID:           uuid.New().String(),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		CreatedAt:    time.Now(),
		State:        state,
		Scheduler:    subtitles.NewScheduler(),
		stopAutosave: make(chan struct{}),
	}

	// Seed the position from stored progress so playback resumes.
	if rec, ok := m.tracker.GetProgress(itemID, filename); ok {
		state.UpdatePosition(rec.Position, rec.Duration)
	}

	m.mutex.Lock()
	m.sessions[s.ID] = s
	m.mutex.Unlock()

	go m.autosaveLoop(s)

	m.logger.WithFields(logrus.Fields{
		"session":  s.ID,
		"itemId":   itemID,
		"filename": filename,
	}).Info("Playback session created")

	return s
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(sessionID string) *PlaybackSession {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.sessions[sessionID]
}

// GetAllSessions returns a snapshot of the current sessions.
func (m *Manager) GetAllSessions() []*PlaybackSession {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*PlaybackSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	return result
}

// SelectSubtitles configures the session's scheduler with cues, driven by the
// session's interpolated playback position. An empty cue slice is valid and
// keeps the scheduler hidden until a cue becomes active.
func (m *Manager) SelectSubtitles(sessionID, label string, cues []subtitles.Cue) bool {
	s := m.GetSession(sessionID)
	if s == nil {
		return false
	}

	clock := subtitles.TickerClock{Position: s.State.PlaybackPosition}
	s.Scheduler.Configure(cues, clock)

	m.mutex.Lock()
	s.SubtitleLabel = label
	m.mutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"label":   label,
		"cues":    len(cues),
	}).Info("Subtitle track selected")
	return true
}

// ClearSubtitles turns subtitle scheduling off for the session.
func (m *Manager) ClearSubtitles(sessionID string) bool {
	s := m.GetSession(sessionID)
	if s == nil {
		return false
	}

	s.Scheduler.Stop()

	m.mutex.Lock()
	s.SubtitleLabel = ""
	m.mutex.Unlock()
	return true
}

// ReportState records a client position report.
func (m *Manager) ReportState(sessionID string, position, duration float64, isPlaying bool) bool {
	s := m.GetSession(sessionID)
	if s == nil {
		return false
	}

	s.State.UpdatePosition(position, duration)
	s.State.UpdatePlaybackState(isPlaying)
	return true
}

// CloseSession tears a session down: the scheduler stops (emitting its hide
// event if a cue was showing), the autosave loop exits, and the final
// position is saved.
func (m *Manager) CloseSession(sessionID string) bool {
	m.mutex.Lock()
	s, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
	}
	m.mutex.Unlock()

	if !exists {
		return false
	}

	m.teardown(s)
	m.logger.WithField("session", sessionID).Info("Playback session closed")
	return true
}

// Close shuts down the manager and all sessions.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	m.mutex.Lock()
	remaining := make([]*PlaybackSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*PlaybackSession)
	m.mutex.Unlock()

	for _, s := range remaining {
		m.teardown(s)
	}
}

func (m *Manager) teardown(s *PlaybackSession) {
	s.stopOnce.Do(func() {
		close(s.stopAutosave)
	})
	s.Scheduler.Stop()
	m.saveSession(s)
}

// saveSession samples the session position into the tracker.
func (m *Manager) saveSession(s *PlaybackSession) {
	state := s.State.GetState()
	m.tracker.SaveProgress(models.PlaybackProgress{
		ItemID:      state.ItemID,
		Filename:    state.Filename,
		Position:    s.State.PlaybackPosition(),
		Duration:    state.Duration,
		Kind:        state.Kind,
		LastWatched: time.Now(),
	})
}

func (m *Manager) autosaveLoop(s *PlaybackSession) {
	ticker := time.NewTicker(m.autosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopAutosave:
			return
		case <-ticker.C:
			if s.State.GetState().IsPlaying {
				m.saveSession(s)
			}
		}
	}
}

// sweepLoop closes sessions whose clients stopped reporting.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()

	m.mutex.Lock()
	expired := make([]*PlaybackSession, 0)
	for id, s := range m.sessions {
		if now.Sub(s.State.LastUpdated()) > m.activityTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mutex.Unlock()

	for _, s := range expired {
		m.teardown(s)
		m.logger.WithField("session", s.ID).Info("Expired playback session closed")
	}
}
