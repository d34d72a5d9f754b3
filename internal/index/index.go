// Package index holds the in-memory task cache. It is never the source of
// truth: a difference between index and store after a crash is resolved by
// re-running LoadAll against the store.
package index

import (
	"context"
	"log"
	"sync"

	"github.com/barkline/barkline/internal/domain"
)

// Store is the durable source the index is rebuilt from.
type Store interface {
	GetAll(ctx context.Context) ([]domain.Task, error)
}

// Index is a concurrency-safe job_id → task snapshot map.
type Index struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
}

// New creates an empty index.
func New() *Index {
	return &Index{tasks: make(map[string]domain.Task)}
}

// Upsert replaces the snapshot for task.JobID in a single atomic swap.
// Readers never observe a torn write.
func (ix *Index) Upsert(task domain.Task) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tasks[task.JobID] = task
}

// Get returns the snapshot for jobID or domain.ErrTaskNotFound.
func (ix *Index) Get(jobID string) (domain.Task, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	task, ok := ix.tasks[jobID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// Remove deletes the snapshot for jobID. Removing an absent id is a no-op.
func (ix *Index) Remove(jobID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.tasks, jobID)
}

// List returns a copy of every snapshot. Order is unspecified.
func (ix *Index) List() []domain.Task {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	result := make([]domain.Task, 0, len(ix.tasks))
	for _, task := range ix.tasks {
		result = append(result, task)
	}
	return result
}

// Len returns the number of cached tasks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tasks)
}

// LoadAll rebuilds the cache from the store in one pass, replacing prior
// contents. Records with an empty job id are logged and skipped; the store
// already drops rows that fail to scan.
func (ix *Index) LoadAll(ctx context.Context, store Store) error {
	tasks, err := store.GetAll(ctx)
	if err != nil {
		return err
	}

	loaded := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		if task.JobID == "" {
			log.Printf("index: skipping task with empty job id (schedule_time=%s)", task.ScheduleTime)
			continue
		}
		loaded[task.JobID] = task
	}

	ix.mu.Lock()
	ix.tasks = loaded
	ix.mu.Unlock()

	log.Printf("index: loaded %d tasks from store", len(loaded))
	return nil
}
