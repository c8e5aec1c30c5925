// Package reminder decides which tasks are due for a deadline reminder.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stellarlinkco/remindme/internal/logging"
	"github.com/stellarlinkco/remindme/internal/todo"
)

type Kind int

const (
	// Standard fires the day before the deadline.
	Standard Kind = iota
	// Important fires two days before the deadline of an important task.
	Important
)

func (k Kind) String() string {
	if k == Important {
		return "important"
	}
	return "standard"
}

// Notification is one reminder addressed to a task owner's chat.
type Notification struct {
	ChatID int64
	TaskID int64
	Kind   Kind
	Text   string
}

// Evaluate applies the reminder policy to a single task. It has no side
// effects and depends only on the task and today's date.
func Evaluate(t todo.Task, today time.Time) (Notification, bool) {
	if t.Deadline == nil {
		return Notification{}, false
	}
	switch d := todo.DaysUntil(today, *t.Deadline); {
	case d == 1:
		return Notification{
			ChatID: t.OwnerID,
			TaskID: t.ID,
			Kind:   Standard,
			Text:   "У вас есть задача «" + t.Title + "», которая завтра должна быть выполнена!",
		}, true
	case d == 2 && t.Important:
		return Notification{
			ChatID: t.OwnerID,
			TaskID: t.ID,
			Kind:   Important,
			Text:   "Внимание! У вас есть важная задача «" + t.Title + "», которая должна быть выполнена через 2 дня!",
		}, true
	}
	return Notification{}, false
}

// Sweeper scans all deadline-bearing tasks. It never writes to the store and
// keeps no record of what was already sent, so running it twice on the same
// day produces the same notifications twice.
type Sweeper struct {
	tasks  todo.TaskStore
	logger *log.Logger
}

func NewSweeper(tasks todo.TaskStore, logger *log.Logger) *Sweeper {
	return &Sweeper{tasks: tasks, logger: logging.Component(logger, "reminder")}
}

// Sweep returns the notifications due on the calendar day of today.
func (s *Sweeper) Sweep(ctx context.Context, today time.Time) ([]Notification, error) {
	tasks, err := s.tasks.ListWithDeadline(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks with deadline: %w", err)
	}
	var out []Notification
	for _, t := range tasks {
		if n, ok := Evaluate(t, today); ok {
			out = append(out, n)
		}
	}
	s.logger.Debug("sweep evaluated", "date", todo.FormatDate(todo.Date(today)), "tasks", len(tasks), "due", len(out))
	return out, nil
}

// Report summarises one delivery run.
type Report struct {
	Due       int
	Delivered int
	Failed    int
}

// Deliver sends every notification through send. A failed delivery is logged
// and counted; the remaining notifications are still attempted.
func (s *Sweeper) Deliver(ctx context.Context, notes []Notification, send func(context.Context, Notification) error) Report {
	r := Report{Due: len(notes)}
	for _, n := range notes {
		if err := ctx.Err(); err != nil {
			r.Failed += r.Due - r.Delivered - r.Failed
			s.logger.Warn("delivery interrupted", "err", err)
			break
		}
		if err := send(ctx, n); err != nil {
			r.Failed++
			s.logger.Error("deliver reminder", "chat", n.ChatID, "task", n.TaskID, "kind", n.Kind, "err", err)
			continue
		}
		r.Delivered++
	}
	return r
}

// Run sweeps and delivers in one go.
func (s *Sweeper) Run(ctx context.Context, today time.Time, send func(context.Context, Notification) error) (Report, error) {
	notes, err := s.Sweep(ctx, today)
	if err != nil {
		return Report{}, err
	}
	r := s.Deliver(ctx, notes, send)
	s.logger.Info("reminder sweep finished", "due", r.Due, "delivered", r.Delivered, "failed", r.Failed)
	return r, nil
}
