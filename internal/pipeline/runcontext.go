package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Run states as reported by Progress.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// maxRunLogLines bounds the rolling log a run keeps in memory.
const maxRunLogLines = 100

// RunContext tracks one enrichment run: counters, state and a bounded
// rolling log. It is created per run and safe for concurrent use.
type RunContext struct {
	ID      string
	Started time.Time

	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	mu      sync.Mutex
	state   string
	lastErr string
	logs    []string
}

// NewRunContext creates a context for a fresh run.
func NewRunContext() *RunContext {
	return &RunContext{
		ID:      uuid.NewString(),
		Started: time.Now().UTC(),
		state:   StateRunning,
	}
}

// SetTotal records how many items the run selected.
func (rc *RunContext) SetTotal(n int) { rc.total.Store(int64(n)) }

// AddProcessed counts items that reached a terminal state.
func (rc *RunContext) AddProcessed(n int) { rc.processed.Add(int64(n)) }

// AddFailed counts items marked error.
func (rc *RunContext) AddFailed(n int) { rc.failed.Add(int64(n)) }

// SetSkipped records items left pending by the budget stop.
func (rc *RunContext) SetSkipped(n int) { rc.skipped.Store(int64(n)) }

// Logf appends a line to the rolling log, dropping the oldest line
// once the cap is hit.
func (rc *RunContext) Logf(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.logs = append(rc.logs, line)
	if len(rc.logs) > maxRunLogLines {
		rc.logs = rc.logs[len(rc.logs)-maxRunLogLines:]
	}
}

// Finish moves the run to a terminal state.
func (rc *RunContext) Finish(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		rc.state = StateFailed
		rc.lastErr = err.Error()
		return
	}
	rc.state = StateCompleted
}

// Fail records an error without ending the run.
func (rc *RunContext) Fail(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lastErr = err.Error()
}

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	RunID           string   `json:"runId"`
	Status          string   `json:"status"`
	Total           int64    `json:"total"`
	Processed       int64    `json:"processed"`
	Failed          int64    `json:"failed"`
	Skipped         int64    `json:"skipped"`
	PercentComplete float64  `json:"percentComplete"`
	LastError       string   `json:"lastError,omitempty"`
	Logs            []string `json:"logs"`
}

// Progress returns a snapshot; its log slice is a copy.
func (rc *RunContext) Progress() Progress {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	total := rc.total.Load()
	processed := rc.processed.Load()
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	logs := make([]string, len(rc.logs))
	copy(logs, rc.logs)

	return Progress{
		RunID:           rc.ID,
		Status:          rc.state,
		Total:           total,
		Processed:       processed,
		Failed:          rc.failed.Load(),
		Skipped:         rc.skipped.Load(),
		PercentComplete: percent,
		LastError:       rc.lastErr,
		Logs:            logs,
	}
}
