// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tramoapp/tramo/internal/platform/apperr"
	"github.com/tramoapp/tramo/pkg/uuidv7"
)

// Runner is the unit of work a task executes. It must honor ctx
// cancellation and may call report as often as it likes; the manager adds
// the monotonic update counter.
type Runner func(ctx context.Context, report func(Progress)) (artifact []byte, contentType string, err error)

// Manager owns the task lifecycle: submission, background execution,
// progress, cancellation, artifact retrieval, and cleanup.
type Manager struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	workers sync.WaitGroup
}

func NewManager(store Store, timeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		timeout: timeout,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit records the task as QUEUED and schedules it immediately. The
// returned task carries the id the caller polls with. Execution detaches
// from the submitting request's context: the HTTP 202 must not cancel the
// run.
func (manager *Manager) Submit(ctx context.Context, taskType string, run Runner) (Task, error) {
	t := Task{
		ID:          uuidv7.New(),
		Type:        taskType,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if err := manager.store.SaveTask(ctx, t); err != nil {
		return Task{}, err
	}

	runCtx := context.Background()
	var cancel context.CancelFunc
	if manager.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, manager.timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	manager.mu.Lock()
	manager.cancels[t.ID] = cancel
	manager.mu.Unlock()

	manager.workers.Add(1)
	go manager.execute(runCtx, t, run)

	manager.logger.InfoContext(ctx, "task_submitted",
		slog.String("task_id", t.ID),
		slog.String("task_type", taskType),
	)
	return t, nil
}

func (manager *Manager) execute(ctx context.Context, t Task, run Runner) {
	defer manager.workers.Done()
	defer func() {
		manager.mu.Lock()
		if cancel, ok := manager.cancels[t.ID]; ok {
			cancel()
			delete(manager.cancels, t.ID)
		}
		manager.mu.Unlock()
	}()

	// Persistence must survive the run context being cancelled.
	persistCtx := context.WithoutCancel(ctx)

	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	if err := manager.store.SaveTask(persistCtx, t); err != nil {
		manager.logger.Error("task_persist_failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		return
	}

	var updates atomic.Int64
	report := func(p Progress) {
		p.Updates = updates.Add(1)
		if err := manager.store.SaveProgress(persistCtx, t.ID, p); err != nil {
			manager.logger.Warn("task_progress_failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		}
	}

	artifact, contentType, err := run(ctx, report)

	finished := time.Now().UTC()
	t.FinishedAt = &finished

	switch {
	case err == nil:
		t.Status = StatusCompleted
		t.ContentType = contentType
		if saveErr := manager.store.SaveResult(persistCtx, t.ID, artifact); saveErr != nil {
			t.Status = StatusFailed
			t.Error = saveErr.Error()
		}
	case errors.Is(err, context.Canceled):
		t.Status = StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		t.Status = StatusFailed
		t.Error = "task timeout exceeded"
	default:
		t.Status = StatusFailed
		t.Error = err.Error()
	}

	if err := manager.store.SaveTask(persistCtx, t); err != nil {
		manager.logger.Error("task_persist_failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}

	manager.logger.Info("task_finished",
		slog.String("task_id", t.ID),
		slog.String("status", string(t.Status)),
		slog.Duration("elapsed", finished.Sub(*t.StartedAt)),
	)
}

// Status returns the task plus its latest progress snapshot.
func (manager *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	t, err := manager.store.FindTask(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	progress, err := manager.store.FindProgress(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Task: t, Progress: progress}, nil
}

// Cancel requests cooperative cancellation. Only QUEUED and RUNNING tasks
// accept it; the run observes the signal at its next shard boundary or
// batch flush.
func (manager *Manager) Cancel(ctx context.Context, id string) error {
	t, err := manager.store.FindTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return apperr.Conflict("task already finished")
	}

	manager.mu.Lock()
	cancel, ok := manager.cancels[id]
	manager.mu.Unlock()

	if ok {
		cancel()
		return nil
	}

	// No live worker holds this task (e.g. after a restart); mark it
	// cancelled directly.
	if t.Status.CanTransition(StatusCancelled) {
		now := time.Now().UTC()
		t.Status = StatusCancelled
		t.FinishedAt = &now
		return manager.store.SaveTask(ctx, t)
	}
	return nil
}

// Fetch returns the artifact of a COMPLETED task.
func (manager *Manager) Fetch(ctx context.Context, id string) ([]byte, Task, error) {
	t, err := manager.store.FindTask(ctx, id)
	if err != nil {
		return nil, Task{}, err
	}
	if t.Status != StatusCompleted {
		return nil, Task{}, apperr.NotReady(id)
	}

	artifact, err := manager.store.FindResult(ctx, id)
	if err != nil {
		return nil, Task{}, err
	}
	return artifact, t, nil
}

// Cleanup removes terminal tasks that finished more than age ago and
// returns how many were removed.
func (manager *Manager) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	ids, err := manager.store.Terminal(ctx, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := manager.store.Delete(ctx, id); err != nil {
			manager.logger.Warn("task_cleanup_failed", slog.String("task_id", id), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

// Shutdown cancels every live run and waits for workers to settle or the
// context to expire.
func (manager *Manager) Shutdown(ctx context.Context) error {
	manager.mu.Lock()
	for _, cancel := range manager.cancels {
		cancel()
	}
	manager.mu.Unlock()

	done := make(chan struct{})
	go func() {
		manager.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
