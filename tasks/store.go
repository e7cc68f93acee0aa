package tasks

import (
	"context"
	"sort"
	"sync"
)

// Store persists tasks. Implementations must be safe for concurrent use.
type Store interface {
	// NextID allocates the next task id.
	NextID(ctx context.Context) (int, error)
	// Get returns task id and whether it exists.
	Get(ctx context.Context, id int) (Task, bool, error)
	// Put creates or replaces a task.
	Put(ctx context.Context, t Task) error
	// List returns every task ordered by id.
	List(ctx context.Context) ([]Task, error)
	Close() error
}

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	lastID int
	tasks  map[int]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[int]Task)}
}

func (s *MemoryStore) NextID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
