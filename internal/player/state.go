package player

import (
	"math"
	"sync"
	"time"

	"intermezzo/pkg/models"
)

// State represents the playback state a client last reported for one item.
// Position is the reported position; PlaybackPosition interpolates forward
// from it while playing.
type State struct {
	ItemID    string           `json:"itemId"`
	Filename  string           `json:"filename"`
	Kind      models.MediaKind `json:"kind"`
	Position  float64          `json:"position"` // in seconds
	Duration  float64          `json:"duration"` // in seconds
	IsPlaying bool             `json:"isPlaying"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StateManager manages one session's playback state and notifies listeners.
// Its interpolated position drives both the subtitle scheduler and the
// progress autosave loop.
type StateManager struct {
	state     *State
	mutex     sync.RWMutex
	listeners []chan *State
}

// NewStateManager creates a state manager for the given item and file.
func NewStateManager(itemID, filename string, kind models.MediaKind, duration float64) *StateManager {
	return &StateManager{
		state: &State{
			ItemID:    itemID,
			Filename:  filename,
			Kind:      kind,
			Duration:  duration,
			UpdatedAt: time.Now(),
		},
		listeners: make([]chan *State, 0),
	}
}

// GetState returns the current playback state (thread-safe)
func (sm *StateManager) GetState() *State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stateCopy := *sm.state
	return &stateCopy
}

// UpdatePosition records a client-reported position, optionally updating the
// duration when the client learned a better one.
func (sm *StateManager) UpdatePosition(position, duration float64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.Position = position
	if duration > 0 && !math.IsInf(duration, 0) && !math.IsNaN(duration) {
		sm.state.Duration = duration
	}
	sm.state.UpdatedAt = time.Now()
	sm.notifyListeners()
}

// UpdatePlaybackState updates playback state (playing/paused). Pausing
// freezes the interpolated position at its current value first.
func (sm *StateManager) UpdatePlaybackState(isPlaying bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.state.IsPlaying && !isPlaying {
		sm.state.Position = sm.positionLocked()
	}
	sm.state.IsPlaying = isPlaying
	sm.state.UpdatedAt = time.Now()
	sm.notifyListeners()
}

// PlaybackPosition returns the current position in seconds, advanced by
// wall-clock time since the last report while playing. Clamped to the
// duration when one is known.
func (sm *StateManager) PlaybackPosition() float64 {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	return sm.positionLocked()
}

func (sm *StateManager) positionLocked() float64 {
	pos := sm.state.Position
	if sm.state.IsPlaying {
		pos += time.Since(sm.state.UpdatedAt).Seconds()
	}
	if sm.state.Duration > 0 && pos > sm.state.Duration {
		pos = sm.state.Duration
	}
	return pos
}

// LastUpdated returns when the client last reported state. Used for
// inactivity expiry.
func (sm *StateManager) LastUpdated() time.Time {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	return sm.state.UpdatedAt
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan *State {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan *State, 10) // Buffered channel to prevent blocking
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (sm *StateManager) Unsubscribe(ch <-chan *State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// notifyListeners sends state updates to all subscribers (must be called with lock held)
func (sm *StateManager) notifyListeners() {
	stateCopy := *sm.state
	for i := 0; i < len(sm.listeners); i++ {
		select {
		case sm.listeners[i] <- &stateCopy:
			// Successfully sent
		default:
			// Channel is full or closed, remove it
			close(sm.listeners[i])
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			i--
		}
	}
}
