// Package dialog implements the conversational state machine: it turns one
// incoming chat message into store operations, a session transition and a
// list of replies.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stellarlinkco/remindme/internal/config"
	"github.com/stellarlinkco/remindme/internal/logging"
	"github.com/stellarlinkco/remindme/internal/session"
	"github.com/stellarlinkco/remindme/internal/todo"
)

// Reply is one outgoing message. Keyboard always reflects the session state
// after the message that produced it was handled.
type Reply struct {
	ChatID   int64
	Text     string
	Keyboard [][]string
}

type Options struct {
	// NotifyInfo is shown for the notify command.
	NotifyInfo string
	Logger     *log.Logger
}

type Handler struct {
	tasks      todo.TaskStore
	users      todo.UserStore
	sessions   session.Store
	seq        *todo.Sequencer
	locks      *session.Locker
	notifyInfo string
	logger     *log.Logger
}

func NewHandler(tasks todo.TaskStore, users todo.UserStore, sessions session.Store, opts Options) *Handler {
	if opts.NotifyInfo == "" {
		opts.NotifyInfo = DefaultNotifyInfo(config.DefaultReminderSchedule)
	}
	return &Handler{
		tasks:      tasks,
		users:      users,
		sessions:   sessions,
		seq:        todo.NewSequencer(tasks),
		locks:      session.NewLocker(),
		notifyInfo: opts.NotifyInfo,
		logger:     logging.Component(opts.Logger, "dialog"),
	}
}

// turn collects the outcome of one message. The session transition is only
// persisted once the task store has been changed or the whole message has
// been handled without error.
type turn struct {
	chatID  int64
	profile todo.Profile
	texts   []string
	next    *session.Session
	applied bool // a task store write succeeded
}

func (t *turn) say(text string) { t.texts = append(t.texts, text) }

func (t *turn) enter(s session.Session) { t.next = &s }

func (t *turn) finish() { t.next = nil }

// HandleMessage processes one message from a chat. Messages for the same chat
// are handled one at a time.
//
// An error before any task store write leaves the session as it was and the
// returned replies hold a single generic acknowledgement. Once a write has
// succeeded the transition is kept; a later failure to render the follow-up
// only adds the acknowledgement to the replies and is logged.
func (h *Handler) HandleMessage(ctx context.Context, chatID int64, text string, from todo.Profile) ([]Reply, error) {
	unlock := h.locks.Lock(chatID)
	defer unlock()

	cur, ok, err := h.sessions.Get(ctx, chatID)
	if err != nil {
		return h.failed(chatID, nil), fmt.Errorf("load session: %w", err)
	}
	var before *session.Session
	if ok {
		before = &cur
	}

	t := &turn{chatID: chatID, profile: from}
	if before != nil {
		s := *before
		t.next = &s
		err = h.inSession(ctx, t, s, text)
	} else {
		err = h.idle(ctx, t, text)
	}
	if err != nil {
		if !t.applied {
			return h.failed(chatID, before), err
		}
		h.logger.Error("reply after task change", "chat", chatID, "err", err)
		t.say(textInternalError)
	}

	if err := h.commit(ctx, chatID, before, t.next); err != nil {
		return h.failed(chatID, before), err
	}

	if !sameState(before, t.next) {
		h.logger.Debug("session transition", "chat", chatID, "from", describe(before), "to", describe(t.next))
	}

	kb := KeyboardFor(t.next)
	replies := make([]Reply, 0, len(t.texts))
	for _, msg := range t.texts {
		replies = append(replies, Reply{ChatID: chatID, Text: msg, Keyboard: kb})
	}
	return replies, nil
}

// Keyboard returns the keyboard matching the chat's current session, for
// messages that are not replies to user input.
func (h *Handler) Keyboard(ctx context.Context, chatID int64) ([][]string, error) {
	s, ok, err := h.sessions.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return KeyboardFor(nil), nil
	}
	return KeyboardFor(&s), nil
}

func (h *Handler) failed(chatID int64, before *session.Session) []Reply {
	return []Reply{{ChatID: chatID, Text: textInternalError, Keyboard: KeyboardFor(before)}}
}

func (h *Handler) commit(ctx context.Context, chatID int64, before, next *session.Session) error {
	switch {
	case next == nil && before != nil:
		if err := h.sessions.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	case next != nil && (before == nil || *before != *next):
		if err := h.sessions.Put(ctx, *next); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

func (h *Handler) idle(ctx context.Context, t *turn, text string) error {
	cmd, n := ParseCommand(text)
	switch cmd {
	case CmdStart:
		if _, err := h.ensureUser(ctx, t); err != nil {
			return err
		}
		t.say(textGreeting(t.profile.FirstName))
		t.say(textStartFollowUp)
	case CmdHelp:
		t.say(textHelp)
	case CmdList:
		return h.showList(ctx, t)
	case CmdNewTask:
		t.enter(session.NewCreating(t.chatID))
		t.say(textAskTitle)
	case CmdNotify:
		t.say(h.notifyInfo)
	case CmdTaskNumber:
		task, err := h.seq.Resolve(ctx, t.chatID, n)
		if errors.Is(err, todo.ErrNotFound) {
			t.say(textNoSuchNumber)
			return nil
		}
		if err != nil {
			return err
		}
		t.enter(session.NewEditing(t.chatID, task.ID))
		t.say(taskDetail(task))
		t.say(textWhatToChange)
	default:
		t.say(textUnknownCommand)
	}
	return nil
}

func (h *Handler) inSession(ctx context.Context, t *turn, s session.Session, text string) error {
	in := classify(text)

	switch s.Mode {
	case session.CreatingTask:
		return h.creating(ctx, t, s, in, text)
	case session.EditingTask:
		return h.editing(ctx, t, s, in, text)
	default:
		// Unknown mode cannot be produced by this package; drop it and treat
		// the message as top-level input.
		t.finish()
		return h.idle(ctx, t, text)
	}
}

func (h *Handler) creating(ctx context.Context, t *turn, s session.Session, in Input, text string) error {
	if in == InputCancel {
		t.finish()
		t.say(textCreateCancelled)
		return nil
	}

	switch s.Step {
	case session.AwaitingTitle:
		if isBlank(text) {
			t.say(textEmptyTitle)
			return nil
		}
		s.PendingTitle = text
		s.Step = session.AwaitingDescription
		t.enter(s)
		t.say(textAskDescription)
		return nil

	case session.AwaitingDescription:
		if _, err := h.ensureUser(ctx, t); err != nil {
			return err
		}
		task, err := h.tasks.Create(ctx, s.PendingTitle, text, t.chatID)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		h.logger.Info("task created", "chat", t.chatID, "task", task.ID)
		t.applied = true
		t.finish()
		t.say(textTaskCreated(task.Title))
		return h.showList(ctx, t)
	}

	return fmt.Errorf("creating: unexpected step %s", s.Step)
}

func (h *Handler) editing(ctx context.Context, t *turn, s session.Session, in Input, text string) error {
	switch s.Step {
	case session.SelectingField:
		return h.selectField(ctx, t, s, in)

	case session.EditingTitle:
		if isBlank(text) {
			t.say(textEmptyTitle)
			return nil
		}
		return h.updateTarget(ctx, t, s, func(task *todo.Task) {
			task.Title = text
		}, func(todo.Task) error {
			t.finish()
			t.say(textTitleChanged)
			return h.showList(ctx, t)
		})

	case session.EditingDescription:
		return h.updateTarget(ctx, t, s, func(task *todo.Task) {
			task.Description = text
		}, func(task todo.Task) error {
			s.Step = session.SelectingField
			t.enter(s)
			t.say(textDescChanged)
			t.say(taskDetail(task))
			t.say(textWhatToChange)
			return nil
		})

	case session.EditingDeadline:
		if in == InputCancel {
			task, found, err := h.target(ctx, t, s)
			if err != nil || !found {
				return err
			}
			s.Step = session.SelectingField
			t.enter(s)
			t.say(textDeadlineCancel)
			t.say(taskDetail(task))
			t.say(textWhatToChange)
			return nil
		}
		date, err := todo.ParseDate(text)
		if errors.Is(err, todo.ErrDateFormat) {
			t.say(textDeadlineFormat)
			return nil
		}
		if err != nil {
			t.say(textDeadlineInvalid)
			return nil
		}
		return h.updateTarget(ctx, t, s, func(task *todo.Task) {
			task.Deadline = &date
		}, func(todo.Task) error {
			t.finish()
			t.say(textDeadlineSet)
			return h.showList(ctx, t)
		})
	}

	return fmt.Errorf("editing: unexpected step %s", s.Step)
}

func (h *Handler) selectField(ctx context.Context, t *turn, s session.Session, in Input) error {
	switch in {
	case InputEditTitle:
		s.Step = session.EditingTitle
		t.enter(s)
		t.say(textAskNewTitle)
	case InputEditDescription:
		s.Step = session.EditingDescription
		t.enter(s)
		t.say(textAskNewDesc)
	case InputEditDeadline:
		s.Step = session.EditingDeadline
		t.enter(s)
		t.say(textAskDeadline)
	case InputToggleImportant:
		var nowImportant bool
		return h.updateTarget(ctx, t, s, func(task *todo.Task) {
			task.Important = !task.Important
			nowImportant = task.Important
		}, func(todo.Task) error {
			t.finish()
			if nowImportant {
				t.say(textMarkedImportant)
			} else {
				t.say(textUnmarkedImportant)
			}
			return h.showList(ctx, t)
		})
	case InputComplete:
		task, found, err := h.target(ctx, t, s)
		if err != nil || !found {
			return err
		}
		if err := h.tasks.Delete(ctx, task.ID); err != nil {
			return fmt.Errorf("delete task %d: %w", task.ID, err)
		}
		h.logger.Info("task completed", "chat", t.chatID, "task", s.TargetTaskID)
		t.applied = true
		t.finish()
		t.say(textTaskCompleted)
		return h.showList(ctx, t)
	case InputBack:
		t.finish()
		return h.showList(ctx, t)
	default:
		t.say(textUnknownField)
	}
	return nil
}

// target loads the task being edited. A task that disappeared ends the
// session with a notice and reports found == false.
func (h *Handler) target(ctx context.Context, t *turn, s session.Session) (todo.Task, bool, error) {
	task, err := h.seq.Find(ctx, t.chatID, s.TargetTaskID)
	if errors.Is(err, todo.ErrNotFound) {
		t.finish()
		t.say(textTaskNotFound)
		return todo.Task{}, false, nil
	}
	if err != nil {
		return todo.Task{}, false, fmt.Errorf("load task %d: %w", s.TargetTaskID, err)
	}
	return task, true, nil
}

func (h *Handler) updateTarget(ctx context.Context, t *turn, s session.Session, mutate func(*todo.Task), then func(todo.Task) error) error {
	task, found, err := h.target(ctx, t, s)
	if err != nil || !found {
		return err
	}
	mutate(&task)
	saved, err := h.tasks.Save(ctx, task)
	if err != nil {
		return fmt.Errorf("save task %d: %w", task.ID, err)
	}
	t.applied = true
	return then(saved)
}

func (h *Handler) showList(ctx context.Context, t *turn) error {
	tasks, err := h.seq.Render(ctx, t.chatID)
	if err != nil {
		return err
	}
	t.say(taskList(tasks))
	return nil
}

// ensureUser registers the chat on first contact.
func (h *Handler) ensureUser(ctx context.Context, t *turn) (todo.User, error) {
	u, ok, err := h.users.GetUser(ctx, t.chatID)
	if err != nil {
		return todo.User{}, fmt.Errorf("get user: %w", err)
	}
	if ok {
		return u, nil
	}
	u, err = h.users.CreateUser(ctx, todo.User{
		ChatID:       t.chatID,
		FirstName:    t.profile.FirstName,
		LastName:     t.profile.LastName,
		UserName:     t.profile.UserName,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return todo.User{}, fmt.Errorf("create user: %w", err)
	}
	h.logger.Info("user registered", "chat", t.chatID, "username", u.UserName)
	return u, nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func sameState(a, b *session.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func describe(s *session.Session) string {
	if s == nil {
		return session.Idle.String()
	}
	return s.Mode.String() + "/" + s.Step.String()
}
