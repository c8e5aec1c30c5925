// Package todo holds the task and user model shared by the dialog, the
// reminder sweep and the storage layer.
package todo

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Task is a single todo item owned by a user (identified by chat id).
//
// SeqNumber is a display ordinal written on every list render. It is not an
// identity; numeric references from users are always resolved through a fresh
// Sequence call.
type Task struct {
	ID          int64
	OwnerID     int64
	Title       string
	Description string
	Important   bool
	Deadline    *time.Time // calendar date at UTC midnight, nil means none
	SeqNumber   int
}

type User struct {
	ChatID       int64
	FirstName    string
	LastName     string
	UserName     string
	RegisteredAt time.Time
}

// Profile is what the transport knows about the sender of a message.
type Profile struct {
	FirstName string
	LastName  string
	UserName  string
}

type TaskStore interface {
	Create(ctx context.Context, title, description string, ownerID int64) (Task, error)
	Get(ctx context.Context, id int64) (Task, error)
	Save(ctx context.Context, t Task) (Task, error)
	Delete(ctx context.Context, id int64) error
	// ListByOwner returns the owner's tasks in the store's natural order
	// (ascending id).
	ListByOwner(ctx context.Context, ownerID int64) ([]Task, error)
	// ListWithDeadline returns every task that has a deadline, across owners.
	ListWithDeadline(ctx context.Context) ([]Task, error)
}

type UserStore interface {
	GetUser(ctx context.Context, chatID int64) (User, bool, error)
	CreateUser(ctx context.Context, u User) (User, error)
}
