package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlinkco/remindme/internal/todo"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			chat_id INTEGER PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			registered_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
			title TEXT,
			description TEXT NOT NULL DEFAULT '',
			important INTEGER NOT NULL DEFAULT 0,
			deadline TEXT,
			seq_number INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline) WHERE deadline IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, owner_id, title, description, important, deadline, seq_number`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (todo.Task, error) {
	var (
		t         todo.Task
		title     sql.NullString
		important int
		deadline  sql.NullString
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &title, &t.Description, &important, &deadline, &t.SeqNumber); err != nil {
		return todo.Task{}, err
	}
	t.Title = title.String
	t.Important = important != 0
	if deadline.Valid && deadline.String != "" {
		d, err := time.Parse(todo.DateLayout, deadline.String)
		if err != nil {
			return todo.Task{}, fmt.Errorf("task %d: bad deadline %q: %w", t.ID, deadline.String, err)
		}
		t.Deadline = &d
	}
	return t, nil
}

func deadlineValue(d *time.Time) any {
	if d == nil {
		return nil
	}
	return todo.FormatDate(*d)
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLite) Create(ctx context.Context, title, description string, ownerID int64) (todo.Task, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (owner_id, title, description) VALUES (?, ?, ?)`,
		ownerID, title, description)
	if err != nil {
		return todo.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return todo.Task{}, fmt.Errorf("insert task id: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLite) Get(ctx context.Context, id int64) (todo.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Task{}, fmt.Errorf("task %d: %w", id, todo.ErrNotFound)
	}
	if err != nil {
		return todo.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// Save inserts the task when it has no id yet and otherwise upserts it by id.
func (s *SQLite) Save(ctx context.Context, t todo.Task) (todo.Task, error) {
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (owner_id, title, description, important, deadline, seq_number)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.OwnerID, t.Title, t.Description, boolValue(t.Important), deadlineValue(t.Deadline), t.SeqNumber)
		if err != nil {
			return todo.Task{}, fmt.Errorf("insert task: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return todo.Task{}, fmt.Errorf("insert task id: %w", err)
		}
		return t, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, title, description, important, deadline, seq_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			description = excluded.description,
			important = excluded.important,
			deadline = excluded.deadline,
			seq_number = excluded.seq_number`,
		t.ID, t.OwnerID, t.Title, t.Description, boolValue(t.Important), deadlineValue(t.Deadline), t.SeqNumber)
	if err != nil {
		return todo.Task{}, fmt.Errorf("save task %d: %w", t.ID, err)
	}
	return t, nil
}

func (s *SQLite) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, todo.ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListByOwner(ctx context.Context, ownerID int64) ([]todo.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY id ASC`, ownerID)
}

func (s *SQLite) ListWithDeadline(ctx context.Context) ([]todo.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE deadline IS NOT NULL ORDER BY id ASC`)
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]todo.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []todo.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (s *SQLite) GetUser(ctx context.Context, chatID int64) (todo.User, bool, error) {
	var (
		u          todo.User
		registered string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, first_name, last_name, user_name, registered_at FROM users WHERE chat_id = ?`,
		chatID).Scan(&u.ChatID, &u.FirstName, &u.LastName, &u.UserName, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.User{}, false, nil
	}
	if err != nil {
		return todo.User{}, false, fmt.Errorf("get user %d: %w", chatID, err)
	}
	if u.RegisteredAt, err = time.Parse(time.RFC3339Nano, registered); err != nil {
		return todo.User{}, false, fmt.Errorf("user %d: bad registered_at %q: %w", chatID, registered, err)
	}
	return u, true, nil
}

// CreateUser registers a user. An existing row for the chat id is kept as is.
func (s *SQLite) CreateUser(ctx context.Context, u todo.User) (todo.User, error) {
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, first_name, last_name, user_name, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		u.ChatID, u.FirstName, u.LastName, u.UserName, u.RegisteredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return todo.User{}, fmt.Errorf("create user %d: %w", u.ChatID, err)
	}
	stored, _, err := s.GetUser(ctx, u.ChatID)
	return stored, err
}

func (s *SQLite) Counts(ctx context.Context) (users, tasks int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&tasks); err != nil {
		return 0, 0, fmt.Errorf("count tasks: %w", err)
	}
	return users, tasks, nil
}
