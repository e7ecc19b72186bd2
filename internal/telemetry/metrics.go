package telemetry

import (
	"sync"
	"time"
)

// Metrics accumulates per-process counters for the status endpoint. It
// is constructed once in main and passed to whoever records into it;
// there is no package-level instance and nothing resets it implicitly.
type Metrics struct {
	mu sync.Mutex

	startTime     time.Time
	lastError     string
	lastErrorAt   time.Time
	lastLatencyMS float64
	totalCalls    int64
	totalErrors   int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	OK            bool     `json:"ok"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	LastError     string   `json:"last_error,omitempty"`
	LastErrorAt   *float64 `json:"last_error_at,omitempty"`
	LastLatencyMS float64  `json:"last_latency_ms"`
	TotalCalls    int64    `json:"total_calls"`
	TotalErrors   int64    `json:"total_errors"`
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSuccess notes one successful call and its latency.
func (m *Metrics) RecordSuccess(latencyMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	m.lastLatencyMS = latencyMS
}

// RecordError notes one failed call.
func (m *Metrics) RecordError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	m.totalErrors++
	m.lastError = message
	m.lastErrorAt = time.Now()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		OK:            true,
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		LastError:     m.lastError,
		LastLatencyMS: m.lastLatencyMS,
		TotalCalls:    m.totalCalls,
		TotalErrors:   m.totalErrors,
	}
	if !m.lastErrorAt.IsZero() {
		at := float64(m.lastErrorAt.UnixMilli()) / 1000.0
		s.LastErrorAt = &at
	}
	return s
}
