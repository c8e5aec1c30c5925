package todo

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
)

// Sequence numbers tasks for display: tasks with a deadline come first in
// ascending deadline order, then tasks without one. Ties on the deadline
// keep the input order, and input is expected in the store's natural order,
// so the numbering is deterministic for an unchanged task set.
// The input slice is not modified.
func Sequence(tasks []Task) []Task {
	withDeadline := make([]Task, 0, len(tasks))
	without := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Deadline != nil {
			withDeadline = append(withDeadline, t)
		} else {
			without = append(without, t)
		}
	}
	sort.SliceStable(withDeadline, func(i, j int) bool {
		return withDeadline[i].Deadline.Before(*withDeadline[j].Deadline)
	})

	out := append(withDeadline, without...)
	for i := range out {
		out[i].SeqNumber = i + 1
	}
	return out
}

// Lines yields one rendered line per sequenced task:
// "<seq>. <title>[ до <deadline>][ ❗]".
func Lines(tasks []Task) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, t := range tasks {
			if !yield(Line(t)) {
				return
			}
		}
	}
}

func Line(t Task) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(t.SeqNumber))
	sb.WriteString(". ")
	sb.WriteString(t.Title)
	if t.Deadline != nil {
		sb.WriteString(" до ")
		sb.WriteString(FormatDate(*t.Deadline))
	}
	if t.Important {
		sb.WriteString(" ❗")
	}
	return sb.String()
}

// Sequencer numbers an owner's tasks against the current store contents.
// It holds no state between calls.
type Sequencer struct {
	tasks TaskStore
}

func NewSequencer(tasks TaskStore) *Sequencer {
	return &Sequencer{tasks: tasks}
}

// Render sequences the owner's tasks and writes every task's SeqNumber back
// to the store, changed or not. Writes are sequential and not batched
// atomically; the first failure aborts the render.
func (s *Sequencer) Render(ctx context.Context, ownerID int64) ([]Task, error) {
	list, err := s.tasks.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	ordered := Sequence(list)
	for i := range ordered {
		saved, err := s.tasks.Save(ctx, ordered[i])
		if err != nil {
			return nil, fmt.Errorf("save seq number for task %d: %w", ordered[i].ID, err)
		}
		ordered[i] = saved
	}
	return ordered, nil
}

// Resolve finds the owner's task currently shown under number n.
// It returns ErrNotFound when no task has that number.
func (s *Sequencer) Resolve(ctx context.Context, ownerID int64, n int) (Task, error) {
	list, err := s.tasks.ListByOwner(ctx, ownerID)
	if err != nil {
		return Task{}, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range Sequence(list) {
		if t.SeqNumber == n {
			return t, nil
		}
	}
	return Task{}, ErrNotFound
}

// Find returns the owner's task with the given id, numbered as it would be
// in a fresh render. Tasks of other owners are reported as ErrNotFound.
func (s *Sequencer) Find(ctx context.Context, ownerID, taskID int64) (Task, error) {
	list, err := s.tasks.ListByOwner(ctx, ownerID)
	if err != nil {
		return Task{}, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range Sequence(list) {
		if t.ID == taskID {
			return t, nil
		}
	}
	return Task{}, ErrNotFound
}
