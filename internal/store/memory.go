package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/remindme/internal/todo"
)

// Memory is a process-local store. Data is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[int64]todo.Task
	users  map[int64]todo.User
	nextID int64
}

func NewMemory() *Memory {
	return &Memory{
		tasks: map[int64]todo.Task{},
		users: map[int64]todo.User{},
	}
}

func copyTask(t todo.Task) todo.Task {
	if t.Deadline != nil {
		d := *t.Deadline
		t.Deadline = &d
	}
	return t
}

func (m *Memory) Create(ctx context.Context, title, description string, ownerID int64) (todo.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[ownerID]; !ok {
		return todo.Task{}, fmt.Errorf("owner %d: %w", ownerID, todo.ErrNotFound)
	}
	m.nextID++
	t := todo.Task{ID: m.nextID, OwnerID: ownerID, Title: title, Description: description}
	m.tasks[t.ID] = t
	return copyTask(t), nil
}

func (m *Memory) Get(ctx context.Context, id int64) (todo.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return todo.Task{}, fmt.Errorf("task %d: %w", id, todo.ErrNotFound)
	}
	return copyTask(t), nil
}

func (m *Memory) Save(ctx context.Context, t todo.Task) (todo.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == 0 {
		m.nextID++
		t.ID = m.nextID
	} else if t.ID > m.nextID {
		m.nextID = t.ID
	}
	t = copyTask(t)
	m.tasks[t.ID] = t
	return copyTask(t), nil
}

func (m *Memory) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("task %d: %w", id, todo.ErrNotFound)
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListByOwner(ctx context.Context, ownerID int64) ([]todo.Task, error) {
	return m.list(func(t todo.Task) bool { return t.OwnerID == ownerID }), nil
}

func (m *Memory) ListWithDeadline(ctx context.Context) ([]todo.Task, error) {
	return m.list(func(t todo.Task) bool { return t.Deadline != nil }), nil
}

// list returns matching tasks in ascending id order, the natural order the
// SQLite store also uses.
func (m *Memory) list(match func(todo.Task) bool) []todo.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []todo.Task
	for _, t := range m.tasks {
		if match(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetUser(ctx context.Context, chatID int64) (todo.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[chatID]
	return u, ok, nil
}

func (m *Memory) CreateUser(ctx context.Context, u todo.User) (todo.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[u.ChatID]; ok {
		return existing, nil
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now()
	}
	m.users[u.ChatID] = u
	return u, nil
}

func (m *Memory) Counts(ctx context.Context) (users, tasks int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), len(m.tasks), nil
}

func (m *Memory) Close() error { return nil }
