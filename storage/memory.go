package storage

import (
	"context"
	"sync"

	"task-api/domain"
)

// Memory keeps tasks in process memory. It backs local runs and tests.
type Memory struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]domain.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.Task)}
}

func (m *Memory) Create(_ context.Context, t domain.Task) (domain.Task, error) {
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	t.ID = newID().Hex()
	t.CreatedAt = nextTimestamp()
	t.UpdatedAt = t.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return domain.Task{}, domain.Duplicate("id", t.ID, nil)
	}
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	return t, nil
}

func (m *Memory) Find(_ context.Context, q domain.ListQuery) ([]domain.Task, error) {
	m.mu.RLock()
	tasks := make([]domain.Task, 0, len(m.order))
	for _, id := range m.order {
		if t := m.tasks[id]; q.Matches(t) {
			tasks = append(tasks, t)
		}
	}
	m.mu.RUnlock()

	domain.SortTasks(tasks, q.Sort)
	return tasks, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) FindByIDAndUpdate(_ context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	patch.Apply(&t)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.UpdatedAt = nextTimestamp()
	m.tasks[id] = t
	return &t, nil
}

func (m *Memory) FindByIDAndDelete(_ context.Context, id string) (*domain.Task, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	delete(m.tasks, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return &t, nil
}
