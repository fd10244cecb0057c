// Package store keeps the history of delivery runs in SQLite.
package store

import "time"

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunAborted marks a run the process never finished, found on startup.
	RunAborted RunStatus = "aborted"
)

// Run is one batch run.
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
	Outcomes   []Outcome  `json:"outcomes,omitempty"`
}

// Outcome is the stored result for one recipient of a run.
type Outcome struct {
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Delivered  bool      `json:"delivered"`
	Category   string    `json:"category,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
