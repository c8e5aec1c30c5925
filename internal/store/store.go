// Package store persists tasks and users.
package store

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/remindme/internal/config"
	"github.com/stellarlinkco/remindme/internal/todo"
)

// Store is the task store and user directory behind one handle.
type Store interface {
	todo.TaskStore
	todo.UserStore
	Counts(ctx context.Context) (users, tasks int, err error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DBPath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
