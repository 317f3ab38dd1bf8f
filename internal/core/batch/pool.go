// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import "sync"

// WorkerPool is a bounded pool with a bounded queue. When the queue is
// full, Submit runs the task on the calling goroutine, which throttles the
// producer instead of growing an unbounded backlog.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

func NewWorkerPool(width, queueDepth int) *WorkerPool {
	if width < 1 {
		width = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	pool := &WorkerPool{tasks: make(chan func(), queueDepth)}
	pool.wg.Add(width)
	for i := 0; i < width; i++ {
		go pool.worker()
	}
	return pool
}

func (pool *WorkerPool) worker() {
	defer pool.wg.Done()
	for task := range pool.tasks {
		task()
	}
}

// Submit enqueues a task, or runs it inline when the queue is full.
func (pool *WorkerPool) Submit(task func()) {
	select {
	case pool.tasks <- task:
	default:
		task()
	}
}

// Close stops accepting tasks and waits for the workers to drain.
func (pool *WorkerPool) Close() {
	close(pool.tasks)
	pool.wg.Wait()
}
