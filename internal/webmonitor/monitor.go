package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/events"
)

// Monitor tracks frame statistics and the recent detection history.
type Monitor struct {
	startTime   time.Time
	targetFPS   float64
	historySize int

	mu               sync.Mutex
	framesProcessed  int
	currentFPS       float64
	errorCount       int
	lastError        string
	latestDetection  *events.Event
	detectionHistory []events.Event
}

// NewMonitor creates a Monitor keeping up to historySize non-empty results.
func NewMonitor(targetFPS float64, historySize int) *Monitor {
	return &Monitor{
		startTime:   time.Now(),
		targetFPS:   targetFPS,
		historySize: historySize,
	}
}

// Record stores a processed frame's result. Only results with detections
// enter the history.
func (m *Monitor) Record(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	if e.FPS > 0 {
		m.currentFPS = e.FPS
	}
	m.latestDetection = &e
	if len(e.Detections) > 0 {
		m.detectionHistory = append([]events.Event{e}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
}

// RecordError counts a failed frame.
func (m *Monitor) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount++
	m.lastError = err.Error()
}

// Errors returns the failed frame count and the last error message.
func (m *Monitor) Errors() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount, m.lastError
}

// Snapshot returns the monitor stats, the latest result and a copy of the history.
func (m *Monitor) Snapshot() (events.MonitorStats, *events.Event, []events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := events.MonitorStats{
		FramesProcessed: m.framesProcessed,
		CurrentFPS:      m.currentFPS,
		TargetFPS:       m.targetFPS,
	}

	var latest *events.Event
	if m.latestDetection != nil {
		e := *m.latestDetection
		latest = &e
		stats.DetectionCount = len(e.Detections)
	}

	history := make([]events.Event, len(m.detectionHistory))
	copy(history, m.detectionHistory)

	return stats, latest, history
}

// Uptime returns the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}
