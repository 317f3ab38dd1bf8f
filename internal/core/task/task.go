// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

/*
Package task runs report generation asynchronously. A submitted task is
acknowledged immediately with an id; a background worker executes it under
the configured timeout, publishing heartbeat progress as it goes, and the
finished artifact is fetched by id once the task completes.

Status transitions are monotonic: QUEUED -> RUNNING -> one of COMPLETED,
FAILED, CANCELLED. A terminal task never changes status again.
*/
package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving to next preserves monotonicity.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled || next == StatusFailed
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Task is the persisted record of one asynchronous run.
type Task struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      Status     `json:"status"`
	ContentType string     `json:"content_type,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Progress is the latest heartbeat snapshot plus a monotonic update
// counter, so pollers can tell a stale snapshot from a repeated one.
type Progress struct {
	Updates     int64   `json:"updates"`
	ElapsedSec  int64   `json:"elapsed_sec"`
	Rows        int64   `json:"rows"`
	MemPct      float64 `json:"mem_pct"`
	ShardsDone  int     `json:"shards_done"`
	TotalShards int     `json:"total_shards"`
}

// Snapshot is the status view returned to pollers.
type Snapshot struct {
	Task     Task      `json:"task"`
	Progress *Progress `json:"progress,omitempty"`
}
