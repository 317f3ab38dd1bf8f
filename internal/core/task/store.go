// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package task

import (
	"context"
	"time"
)

// Store persists task records, progress snapshots, and result artifacts.
// Artifacts are opaque bytes keyed by task id.
type Store interface {
	SaveTask(ctx context.Context, t Task) error
	FindTask(ctx context.Context, id string) (Task, error)

	SaveProgress(ctx context.Context, id string, p Progress) error
	FindProgress(ctx context.Context, id string) (*Progress, error)

	SaveResult(ctx context.Context, id string, artifact []byte) error
	FindResult(ctx context.Context, id string) ([]byte, error)

	// Terminal returns the ids of terminal tasks that finished before the
	// cutoff.
	Terminal(ctx context.Context, cutoff time.Time) ([]string, error)

	// Delete removes the task record, its progress, and its artifact.
	Delete(ctx context.Context, id string) error
}
