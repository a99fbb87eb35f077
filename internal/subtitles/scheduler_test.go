package subtitles

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// manualClock drives the scheduler synchronously from test code.
type manualClock struct {
	mu        sync.Mutex
	fn        func(float64)
	cancelled bool
}

func (c *manualClock) Observe(interval time.Duration, fn func(seconds float64)) func() {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.cancelled = true
		c.fn = nil
		c.mu.Unlock()
	}
}

func (c *manualClock) tick(t float64) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (c *manualClock) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// drainEvents collects everything currently buffered on the listener channel.
func drainEvents(ch <-chan *Cue) []*Cue {
	var events []*Cue
	for {
		select {
		case cue := <-ch:
			events = append(events, cue)
		default:
			return events
		}
	}
}

func TestSchedulerEventSequence(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 2, Text: "a"},
		{Start: 2, End: 4, Text: "b"},
	}

	sched := NewScheduler()
	events := sched.Subscribe()
	clock := &manualClock{}

	sched.Configure(cues, clock)
	for _, pos := range []float64{0.0, 1.9, 2.0, 3.9, 4.0} {
		clock.tick(pos)
	}

	got := drainEvents(events)
	if len(got) != 3 {
		t.Fatalf("Expected exactly 3 change events, got %d", len(got))
	}
	if got[0] == nil || got[0].Text != "a" {
		t.Errorf("First event should display cue a, got %+v", got[0])
	}
	if got[1] == nil || got[1].Text != "b" {
		t.Errorf("Second event should display cue b, got %+v", got[1])
	}
	if got[2] != nil {
		t.Errorf("Third event should be a hide, got %+v", got[2])
	}
}

func TestSchedulerZeroLengthCueNeverActive(t *testing.T) {
	sched := NewScheduler()
	events := sched.Subscribe()
	clock := &manualClock{}

	sched.Configure([]Cue{{Start: 1, End: 1, Text: "never"}}, clock)
	for _, pos := range []float64{0.9, 1.0, 1.1} {
		clock.tick(pos)
	}

	if got := drainEvents(events); len(got) != 0 {
		t.Errorf("Zero-length cue must never be reported active, got %d events", len(got))
	}

	if _, ok := sched.Current(); ok {
		t.Error("Current() should report no active cue")
	}
}

func TestSchedulerOverlapResolution(t *testing.T) {
	// Earliest start wins; the source carries the later-starting cue first to
	// prove sorting decides, not input order.
	cues := []Cue{
		{Start: 1, End: 3, Text: "late"},
		{Start: 0, End: 5, Text: "early"},
	}

	sched := NewScheduler()
	clock := &manualClock{}
	sched.Configure(cues, clock)

	clock.tick(2.0)

	cue, ok := sched.Current()
	if !ok {
		t.Fatal("Expected an active cue")
	}
	if cue.Text != "early" {
		t.Errorf("Overlap should resolve to the earliest-starting cue, got %q", cue.Text)
	}
}

func TestSchedulerUpdateCuesInvalidatesActive(t *testing.T) {
	cues := []Cue{{Start: 0, End: 10, Text: "a"}}

	sched := NewScheduler()
	events := sched.Subscribe()
	clock := &manualClock{}

	sched.Configure(cues, clock)
	clock.tick(1.0)

	// Swap in an identical list; the re-display must not be suppressed.
	sched.UpdateCues([]Cue{{Start: 0, End: 10, Text: "a"}})
	clock.tick(2.0)

	got := drainEvents(events)
	if len(got) != 2 {
		t.Fatalf("Expected 2 events (display, re-display after swap), got %d", len(got))
	}
	if got[1] == nil || got[1].Text != "a" {
		t.Errorf("Expected re-display of cue after cue swap, got %+v", got[1])
	}
}

func TestSchedulerStop(t *testing.T) {
	sched := NewScheduler()
	events := sched.Subscribe()
	clock := &manualClock{}

	sched.Configure([]Cue{{Start: 0, End: 10, Text: "a"}}, clock)
	clock.tick(1.0)
	drainEvents(events)

	sched.Stop()

	if !clock.isCancelled() {
		t.Error("Stop must cancel the clock observer")
	}

	got := drainEvents(events)
	if len(got) != 1 || got[0] != nil {
		t.Errorf("Stop while displaying must emit exactly one hide event, got %v", got)
	}

	// A stale tick racing Stop is ignored, and Stop is idempotent.
	sched.onTick(2.0)
	sched.Stop()
	if got := drainEvents(events); len(got) != 0 {
		t.Errorf("No events expected after Stop, got %d", len(got))
	}
}

func TestSchedulerStopWhileHiddenEmitsNothing(t *testing.T) {
	sched := NewScheduler()
	events := sched.Subscribe()
	clock := &manualClock{}

	sched.Configure([]Cue{{Start: 5, End: 10, Text: "a"}}, clock)
	clock.tick(1.0)
	sched.Stop()

	if got := drainEvents(events); len(got) != 0 {
		t.Errorf("Stop without a displayed cue must not emit, got %d events", len(got))
	}
}

func TestSchedulerReconfigureCancelsOldObserver(t *testing.T) {
	sched := NewScheduler()
	first := &manualClock{}
	second := &manualClock{}

	sched.Configure([]Cue{{Start: 0, End: 1, Text: "a"}}, first)
	sched.Configure([]Cue{{Start: 0, End: 1, Text: "b"}}, second)

	if !first.isCancelled() {
		t.Error("Reconfiguring must cancel the previous clock observer")
	}
	if second.isCancelled() {
		t.Error("New observer should still be live")
	}

	sched.Stop()
}

func TestTickerClock(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	clock := TickerClock{Position: func() float64 { return 42 }}
	cancel := clock.Observe(5*time.Millisecond, func(pos float64) {
		if pos != 42 {
			t.Errorf("Expected position 42, got %v", pos)
		}
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	cancel() // must be safe to call twice

	mu.Lock()
	seen := ticks
	mu.Unlock()
	if seen == 0 {
		t.Fatal("Expected at least one tick before cancel")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := ticks
	mu.Unlock()
	if after > seen+1 {
		t.Errorf("Ticks kept arriving after cancel: %d -> %d", seen, after)
	}
}

func testQuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}
