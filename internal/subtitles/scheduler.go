package subtitles

import (
	"sync"
	"time"
)

// PollInterval is how often the scheduler re-evaluates the player clock.
const PollInterval = 100 * time.Millisecond

// ClockSource delivers periodic playback-position callbacks. Observe
// registers fn to be invoked roughly every interval with the current position
// in seconds and returns a cancel func that deterministically stops delivery.
// A registration that outlives its player is a defect, so cancel must be safe
// to call more than once.
type ClockSource interface {
	Observe(interval time.Duration, fn func(seconds float64)) (cancel func())
}

// TickerClock adapts any position function to a ClockSource using a
// time.Ticker per observer.
type TickerClock struct {
	Position func() float64
}

// Observe starts a ticker goroutine feeding fn until cancel is called.
func (tc TickerClock) Observe(interval time.Duration, fn func(seconds float64)) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(tc.Position())
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// scheduler states
type schedulerState int

const (
	stateIdle       schedulerState = iota // no cues loaded or player stopped
	stateHidden                           // cues loaded, no cue active right now
	stateDisplaying                       // a specific cue is on screen
)

// noCue marks "nothing displayed"; invalidCue forces the next tick to emit
// even when it lands on the same cue again (used after a cue-list swap).
const (
	noCue      = -1
	invalidCue = -2
)

// Scheduler maps a continuously advancing player clock onto "which cue is on
// screen right now". It re-evaluates on each clock tick and emits a change
// event only when the active cue actually changes, not on every poll.
//
// Clock ticks arrive on the observer goroutine; the mutex serializes them
// against Configure/UpdateCues/Stop, which is the only synchronization this
// component needs.
type Scheduler struct {
	mutex     sync.Mutex
	cues      []Cue
	state     schedulerState
	activeIdx int
	cancel    func()
	interval  time.Duration
	listeners []chan *Cue
}

// NewScheduler creates an idle scheduler polling at PollInterval.
func NewScheduler() *Scheduler {
	return &Scheduler{
		state:     stateIdle,
		activeIdx: noCue,
		interval:  PollInterval,
	}
}

// Configure loads a cue list and starts polling the clock. Any previous
// observer registration is cancelled first, so reconfiguring against a new
// player can never leak ticks from the old one.
func (s *Scheduler) Configure(cues []Cue, clock ClockSource) {
	s.mutex.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.cues = sortCues(cues)
	s.state = stateHidden
	s.activeIdx = noCue
	s.mutex.Unlock()

	// Register outside the lock; the first tick may arrive immediately.
	cancel := clock.Observe(s.interval, s.onTick)

	s.mutex.Lock()
	if s.state == stateIdle {
		// Lost a race with Stop; don't leave the observer running.
		cancel()
	} else {
		s.cancel = cancel
	}
	s.mutex.Unlock()
}

// UpdateCues atomically replaces the cue list, e.g. when the user switches
// subtitle track. The active cue is invalidated so the next tick re-emits
// even if the new list contains an identical cue for the current time.
func (s *Scheduler) UpdateCues(cues []Cue) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cues = sortCues(cues)
	if s.state == stateDisplaying {
		s.state = stateHidden
		s.activeIdx = invalidCue
	}
}

// Stop cancels polling and returns to idle, emitting a final hide if a cue
// was on screen. Safe to call repeatedly; must run no later than the owning
// player's teardown.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	wasDisplaying := s.state == stateDisplaying
	s.state = stateIdle
	s.activeIdx = noCue
	s.cues = nil

	if wasDisplaying {
		s.notifyListeners(nil)
	}
}

// Current returns the cue on screen right now, if any.
func (s *Scheduler) Current() (Cue, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != stateDisplaying || s.activeIdx < 0 || s.activeIdx >= len(s.cues) {
		return Cue{}, false
	}
	return s.cues[s.activeIdx], true
}

// Subscribe adds a listener for cue changes. A nil cue means "hide".
func (s *Scheduler) Subscribe() <-chan *Cue {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ch := make(chan *Cue, 10) // Buffered channel to prevent blocking
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (s *Scheduler) Unsubscribe(ch <-chan *Cue) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			break
		}
	}
}

// onTick evaluates the clock position against the cue list.
func (s *Scheduler) onTick(t float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == stateIdle {
		return // stale tick racing a Stop
	}

	idx := s.findActive(t)
	if idx == s.activeIdx {
		return
	}

	s.activeIdx = idx
	if idx == noCue {
		s.state = stateHidden
		s.notifyListeners(nil)
		return
	}

	s.state = stateDisplaying
	cue := s.cues[idx]
	s.notifyListeners(&cue)
}

// findActive returns the index of the first cue active at t, or noCue. The
// list is start-sorted, so the scan stops at the first cue starting after t.
func (s *Scheduler) findActive(t float64) int {
	for i, cue := range s.cues {
		if cue.Start > t {
			break
		}
		if cue.ActiveAt(t) {
			return i
		}
	}
	return noCue
}

// notifyListeners sends cue changes to all subscribers (must be called with
// the lock held).
func (s *Scheduler) notifyListeners(cue *Cue) {
	for i := 0; i < len(s.listeners); i++ {
		select {
		case s.listeners[i] <- cue:
			// Successfully sent
		default:
			// Channel is full or closed, remove it
			close(s.listeners[i])
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			i--
		}
	}
}
