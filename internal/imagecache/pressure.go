package imagecache

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PressureMonitor polls the Go heap against a watermark and invokes the
// registered purge functions when the watermark is crossed. It latches
// after firing and re-arms once the heap drops back under the watermark,
// so a sustained high-water heap doesn't purge on every poll.
type PressureMonitor struct {
	mutex    sync.Mutex
	limit    uint64
	interval time.Duration
	purgeFns []func()
	fired    bool
	stopChan chan struct{}
	stopOnce sync.Once
	logger   *logrus.Logger
}

// NewPressureMonitor creates a monitor that polls every interval and
// fires when HeapAlloc exceeds limitBytes.
func NewPressureMonitor(limitBytes uint64, interval time.Duration, logger *logrus.Logger) *PressureMonitor {
	return &PressureMonitor{
		limit:    limitBytes,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// OnPressure registers a function to run when memory pressure is detected.
func (m *PressureMonitor) OnPressure(fn func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.purgeFns = append(m.purgeFns, fn)
}

// Start launches the polling goroutine.
func (m *PressureMonitor) Start() {
	go m.run()
	m.logger.WithFields(logrus.Fields{
		"limit_mb": m.limit / (1024 * 1024),
		"interval": m.interval,
	}).Info("Memory pressure monitor started")
}

// Stop terminates the polling goroutine. Safe to call more than once.
func (m *PressureMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// Fire invokes the purge functions immediately, bypassing the watermark.
// Used by the admin endpoint to simulate a pressure event.
func (m *PressureMonitor) Fire() {
	m.mutex.Lock()
	fns := make([]func(), len(m.purgeFns))
	copy(fns, m.purgeFns)
	m.mutex.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *PressureMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *PressureMonitor) poll() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.mutex.Lock()
	over := stats.HeapAlloc > m.limit
	shouldFire := over && !m.fired
	m.fired = over
	m.mutex.Unlock()

	if !shouldFire {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"heap_mb":  stats.HeapAlloc / (1024 * 1024),
		"limit_mb": m.limit / (1024 * 1024),
	}).Warn("Memory pressure detected, purging caches")

	m.Fire()
}
