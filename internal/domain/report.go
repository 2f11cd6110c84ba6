package domain

import "time"

// RunnerStatus is the outcome of one runner inside a fleet run.
type RunnerStatus string

const (
	RunnerSucceeded RunnerStatus = "succeeded"
	RunnerFailed    RunnerStatus = "failed"
)

// RunnerResult describes how one runner fared during a fleet run.
type RunnerResult struct {
	RunnerID int64        `json:"runner_id"`
	Name     string       `json:"runner"`
	Status   RunnerStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	Upserted int          `json:"upserted"`
	Deleted  int          `json:"deleted"`
}

// RunReport aggregates the outcome of a fleet synchronization. It is returned to
// the caller and never persisted.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Message    string         `json:"message"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Details    []RunnerResult `json:"details"`
}
