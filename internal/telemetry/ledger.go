package telemetry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one append-only execution record. Exactly one entry is
// written per orchestrated call, on both success and failure paths.
type Entry struct {
	Endpoint  string         `json:"endpoint"`
	Status    int            `json:"status"`
	LatencyMS int64          `json:"latency_ms"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"ts"`
}

// Ledger appends execution entries to a JSONL file. A write failure is
// reported on the diagnostic log and otherwise swallowed: telemetry
// must never turn a successful call into a failed response.
type Ledger struct {
	mu      sync.Mutex
	path    string
	maxSize int64
}

func NewLedger(path string) *Ledger {
	return &Ledger{
		path:    path,
		maxSize: 10 * 1024 * 1024, // 10MB
	}
}

// Log appends one entry. Never returns an error.
func (l *Ledger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("telemetry: failed to marshal entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		log.Printf("telemetry: failed to create log directory: %v", err)
		return
	}

	if info, err := os.Stat(l.path); err == nil && info.Size() > l.maxSize {
		l.rotate()
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("telemetry: failed to open ledger: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("telemetry: failed to write ledger entry: %v", err)
	}
}

// rotate keeps one .old file. Caller holds the mutex.
func (l *Ledger) rotate() {
	oldPath := l.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.path, oldPath)
}
