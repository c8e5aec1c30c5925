// Package session tracks the in-progress multi-turn interaction of each chat.
package session

import (
	"context"
	"sync"
)

// Mode is the kind of interaction a chat is in. Idle chats have no Session.
type Mode int

const (
	Idle Mode = iota
	CreatingTask
	EditingTask
)

func (m Mode) String() string {
	switch m {
	case CreatingTask:
		return "creating"
	case EditingTask:
		return "editing"
	default:
		return "idle"
	}
}

// Step is the sub-state inside a Mode.
type Step int

const (
	AwaitingTitle Step = iota
	AwaitingDescription
	SelectingField
	EditingTitle
	EditingDescription
	EditingDeadline
)

func (s Step) String() string {
	switch s {
	case AwaitingTitle:
		return "awaiting-title"
	case AwaitingDescription:
		return "awaiting-description"
	case SelectingField:
		return "selecting-field"
	case EditingTitle:
		return "editing-title"
	case EditingDescription:
		return "editing-description"
	case EditingDeadline:
		return "editing-deadline"
	default:
		return "unknown"
	}
}

type Session struct {
	ChatID int64
	Mode   Mode
	Step   Step

	// CreatingTask
	PendingTitle string

	// EditingTask
	TargetTaskID int64
}

func NewCreating(chatID int64) Session {
	return Session{ChatID: chatID, Mode: CreatingTask, Step: AwaitingTitle}
}

func NewEditing(chatID, taskID int64) Session {
	return Session{ChatID: chatID, Mode: EditingTask, Step: SelectingField, TargetTaskID: taskID}
}

// Store keeps at most one Session per chat. Put replaces any previous one.
type Store interface {
	Get(ctx context.Context, chatID int64) (Session, bool, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, chatID int64) error
}

// MemoryStore is an in-process Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

func (m *MemoryStore) Get(ctx context.Context, chatID int64) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[chatID]
	return s, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ChatID] = s
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

// Len reports the number of active sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
