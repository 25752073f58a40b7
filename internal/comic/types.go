// Package comic defines the core types shared across the mirror's subsystems.
package comic

import (
	"fmt"
	"time"
)

// Latest asks a Source for the newest comic instead of a numbered one.
const Latest = 0

// Record is one comic's metadata as stored and served.
type Record struct {
	Number   int    `json:"comic_number"`
	FileName string `json:"file_name"`
	Title    string `json:"title"`
	Caption  string `json:"caption"`
}

// FileName returns the image object name for a comic number.
func FileName(number int) string {
	return fmt.Sprintf("xkcd_%d.png", number)
}

// UpdateState represents the lifecycle of synchronization runs.
type UpdateState string

// Update states reported by the status endpoint.
const (
	StateIdle     UpdateState = "idle"
	StateUpdating UpdateState = "updating"
	StateFailed   UpdateState = "failed"
)

// UpdateStatus is the process-wide synchronization status.
type UpdateStatus struct {
	State UpdateState `json:"status"`
	// Time is when the last run started; nil until the first run.
	Time  *time.Time `json:"time"`
	RunID string     `json:"run_id,omitempty"`
	Added int        `json:"added"`
}

// UpdateEvent is published after a run appended new records.
type UpdateEvent struct {
	RunID      string    `json:"run_id"`
	Added      int       `json:"added"`
	Latest     int       `json:"latest"`
	FinishedAt time.Time `json:"finished_at"`
}
