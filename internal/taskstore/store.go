// Package taskstore implements C3: CRUD on tasks with indices by state and
// source, grounded on the teacher's store/memory.go (copy-on-read map store)
// and store/postgres.go (durable upsert-by-primary-key backend).
package taskstore

import (
	"context"
	"sort"
	"sync"

	"github.com/orbitflow/taskdaemon/internal/errkind"
	"github.com/orbitflow/taskdaemon/internal/task"
)

// Store is the task persistence interface the orchestrator consumes. A
// single-writer, multi-reader contract: reads see a consistent
// snapshot (copy-on-read), writes are serialized by the caller (the
// orchestrator), matching §5's locking discipline.
type Store interface {
	Upsert(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*task.Task, error)
	ListByState(ctx context.Context, state task.State) ([]*task.Task, error)
	ListBySource(ctx context.Context, service string) ([]*task.Task, error)
	ListChildren(ctx context.Context, parentTaskID string) ([]*task.Task, error)
}

// MemoryStore is the default in-process backend, analogous to the
// teacher's store.MemoryStore: one map guarded by a RWMutex, returning
// copies so callers can't mutate store-owned state through a stale pointer.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*task.Task)}
}

func (s *MemoryStore) Upsert(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errkind.New(errkind.KindValidation, "taskstore.get", "unknown task id "+id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) ListByState(ctx context.Context, state task.State) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) ListBySource(ctx context.Context, service string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if t.SourceService == service {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, parentTaskID string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if t.ParentTaskID == parentTaskID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentOrder < out[j].SegmentOrder })
	return out, nil
}

func sortByCreatedAt(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
}
