// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package task

import (
	"context"
	"sync"
	"time"

	"github.com/tramoapp/tramo/internal/platform/apperr"
)

// MemoryStore is the single-process Store used when Redis is not
// configured, and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]Task
	progress map[string]Progress
	results  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]Task),
		progress: make(map[string]Progress),
		results:  make(map[string][]byte),
	}
}

func (store *MemoryStore) SaveTask(_ context.Context, t Task) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.tasks[t.ID] = t
	return nil
}

func (store *MemoryStore) FindTask(_ context.Context, id string) (Task, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	t, ok := store.tasks[id]
	if !ok {
		return Task{}, apperr.NotFound("Task")
	}
	return t, nil
}

func (store *MemoryStore) SaveProgress(_ context.Context, id string, p Progress) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.progress[id] = p
	return nil
}

func (store *MemoryStore) FindProgress(_ context.Context, id string) (*Progress, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	p, ok := store.progress[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (store *MemoryStore) SaveResult(_ context.Context, id string, artifact []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.results[id] = artifact
	return nil
}

func (store *MemoryStore) FindResult(_ context.Context, id string) ([]byte, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	artifact, ok := store.results[id]
	if !ok {
		return nil, apperr.NotFound("Task result")
	}
	return artifact, nil
}

func (store *MemoryStore) Terminal(_ context.Context, cutoff time.Time) ([]string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var ids []string
	for id, t := range store.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (store *MemoryStore) Delete(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.tasks, id)
	delete(store.progress, id)
	delete(store.results, id)
	return nil
}
