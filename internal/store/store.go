package store

import (
	"sync"

	"github.com/fetchkit/fetchd/internal/domain"
)

// TaskStore is the single source of truth for task records. All access
// serializes on one lock; callers must not assume atomicity across calls.
// Coarse-grained on purpose: task counts are small and operations brief.
type TaskStore struct {
	mu    sync.Mutex
	tasks []domain.Task
}

// New creates an empty TaskStore.
func New() *TaskStore {
	return &TaskStore{}
}

// NewFromTasks creates a TaskStore seeded with restored records.
func NewFromTasks(tasks []domain.Task) *TaskStore {
	s := &TaskStore{}
	s.tasks = append(s.tasks, tasks...)
	return s
}

// List returns a snapshot copy of all task records.
func (s *TaskStore) List() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get returns a copy of the record with the given id.
func (s *TaskStore) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return s.tasks[i], true
		}
	}
	return domain.Task{}, false
}

// Insert appends a new task record.
func (s *TaskStore) Insert(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Mutate locates the record by id and applies fn to it in place under the
// lock. It reports whether the record was found; absent ids are a no-op.
func (s *TaskStore) Mutate(id string, fn func(*domain.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			fn(&s.tasks[i])
			return true
		}
	}
	return false
}

// RemoveWhere deletes every record matching pred and returns the number
// removed.
func (s *TaskStore) RemoveWhere(pred func(domain.Task) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tasks[:0]
	removed := 0
	for _, t := range s.tasks {
		if pred(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	return removed
}

// Len returns the number of records.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
