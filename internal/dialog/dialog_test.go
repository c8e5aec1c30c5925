package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stellarlinkco/remindme/internal/logging"
	"github.com/stellarlinkco/remindme/internal/session"
	"github.com/stellarlinkco/remindme/internal/store"
	"github.com/stellarlinkco/remindme/internal/todo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat int64 = 100

var alice = todo.Profile{FirstName: "Alice", UserName: "alice"}

type flakyTasks struct {
	*store.Memory
	createErr error
	saveErr   error
	deleteErr error

	// listErrAfterWrite makes ListByOwner fail once a write has succeeded.
	listErrAfterWrite error
	wrote             bool
}

func (f *flakyTasks) Create(ctx context.Context, title, description string, ownerID int64) (todo.Task, error) {
	if f.createErr != nil {
		return todo.Task{}, f.createErr
	}
	f.wrote = true
	return f.Memory.Create(ctx, title, description, ownerID)
}

func (f *flakyTasks) Save(ctx context.Context, t todo.Task) (todo.Task, error) {
	if f.saveErr != nil {
		return todo.Task{}, f.saveErr
	}
	f.wrote = true
	return f.Memory.Save(ctx, t)
}

func (f *flakyTasks) Delete(ctx context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.wrote = true
	return f.Memory.Delete(ctx, id)
}

func (f *flakyTasks) ListByOwner(ctx context.Context, ownerID int64) ([]todo.Task, error) {
	if f.listErrAfterWrite != nil && f.wrote {
		return nil, f.listErrAfterWrite
	}
	return f.Memory.ListByOwner(ctx, ownerID)
}

// failListAfterNextWrite arms ListByOwner to fail after the next successful write.
func (f *flakyTasks) failListAfterNextWrite(err error) {
	f.wrote = false
	f.listErrAfterWrite = err
}

type fixture struct {
	h        *Handler
	mem      *store.Memory
	tasks    *flakyTasks
	sessions *session.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	tasks := &flakyTasks{Memory: mem}
	sessions := session.NewMemoryStore()
	h := NewHandler(tasks, mem, sessions, Options{NotifyInfo: "notify info", Logger: logging.Discard()})
	return &fixture{h: h, mem: mem, tasks: tasks, sessions: sessions}
}

func (f *fixture) send(t *testing.T, text string) []Reply {
	t.Helper()
	replies, err := f.h.HandleMessage(context.Background(), chat, text, alice)
	require.NoError(t, err, "message %q", text)
	require.NotEmpty(t, replies, "message %q", text)
	return replies
}

func (f *fixture) session(t *testing.T) (session.Session, bool) {
	t.Helper()
	s, ok, err := f.sessions.Get(context.Background(), chat)
	require.NoError(t, err)
	return s, ok
}

func (f *fixture) createTask(t *testing.T, title, description string) todo.Task {
	t.Helper()
	f.send(t, "/new")
	f.send(t, title)
	f.send(t, description)
	tasks, err := f.mem.ListByOwner(context.Background(), chat)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Title == title {
			return task
		}
	}
	t.Fatalf("task %q was not created", title)
	return todo.Task{}
}

func texts(replies []Reply) []string {
	out := make([]string, len(replies))
	for i, r := range replies {
		out[i] = r.Text
	}
	return out
}

func last(replies []Reply) Reply { return replies[len(replies)-1] }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  Command
		n    int
	}{
		{"/start", CmdStart, 0},
		{"/help", CmdHelp, 0},
		{"help", CmdHelp, 0},
		{"/todo", CmdList, 0},
		{"todo", CmdList, 0},
		{"Лист", CmdList, 0},
		{"/new", CmdNewTask, 0},
		{"Новая задача", CmdNewTask, 0},
		{"/notify", CmdNotify, 0},
		{"Уведомления", CmdNotify, 0},
		{"3", CmdTaskNumber, 3},
		{"/12", CmdTaskNumber, 12},
		{"//3", CmdUnknown, 0},
		{"+1", CmdUnknown, 0},
		{"-1", CmdUnknown, 0},
		{"/-2", CmdUnknown, 0},
		{" 1", CmdUnknown, 0},
		{"99999999999999999999999", CmdTaskNumber, 0},
		{"3a", CmdUnknown, 0},
		{"hello", CmdUnknown, 0},
		{"", CmdUnknown, 0},
	}
	for _, tt := range tests {
		cmd, n := ParseCommand(tt.text)
		assert.Equal(t, tt.cmd, cmd, "text %q", tt.text)
		assert.Equal(t, tt.n, n, "text %q", tt.text)
	}
}

func TestKeyboardFor(t *testing.T) {
	creating := session.NewCreating(chat)
	editing := session.NewEditing(chat, 1)
	deadline := editing
	deadline.Step = session.EditingDeadline
	title := editing
	title.Step = session.EditingTitle

	assert.Equal(t, defaultKeyboard, KeyboardFor(nil))
	assert.Equal(t, createKeyboard, KeyboardFor(&creating))
	assert.Equal(t, editKeyboard, KeyboardFor(&editing))
	assert.Equal(t, editKeyboard, KeyboardFor(&title))
	assert.Equal(t, deadlineKeyboard, KeyboardFor(&deadline))
}

func TestStart_RegistersUserOnce(t *testing.T) {
	f := newFixture(t)

	replies := f.send(t, "/start")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Привет, Alice!")
	assert.Equal(t, defaultKeyboard, replies[0].Keyboard)

	u, ok, err := f.mem.GetUser(context.Background(), chat)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", u.UserName)

	f.send(t, "/start")
	users, _, err := f.mem.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, users)
}

func TestIdleCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{textHelp}, texts(f.send(t, "/help")))
	assert.Equal(t, []string{"notify info"}, texts(f.send(t, "Уведомления")))
	assert.Equal(t, []string{textEmptyList}, texts(f.send(t, "/todo")))
	assert.Equal(t, []string{textUnknownCommand}, texts(f.send(t, "what?")))

	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestCreateTask_RoundTrip(t *testing.T) {
	f := newFixture(t)

	r := f.send(t, "Новая задача")
	assert.Equal(t, []string{textAskTitle}, texts(r))
	assert.Equal(t, createKeyboard, r[0].Keyboard)
	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, session.CreatingTask, s.Mode)
	assert.Equal(t, session.AwaitingTitle, s.Step)

	r = f.send(t, "Buy milk")
	assert.Equal(t, []string{textAskDescription}, texts(r))
	s, _ = f.session(t)
	assert.Equal(t, session.AwaitingDescription, s.Step)
	assert.Equal(t, "Buy milk", s.PendingTitle)

	r = f.send(t, "2 liters")
	assert.Equal(t, []string{"Задача «Buy milk» создана!", textListHeader + "\n1. Buy milk"}, texts(r))
	assert.Equal(t, defaultKeyboard, r[0].Keyboard)
	_, ok = f.session(t)
	assert.False(t, ok)

	tasks, err := f.mem.ListByOwner(context.Background(), chat)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy milk", tasks[0].Title)
	assert.Equal(t, "2 liters", tasks[0].Description)
	assert.False(t, tasks[0].Important)
	assert.Nil(t, tasks[0].Deadline)

	r = f.send(t, "/todo")
	assert.Equal(t, []string{textListHeader + "\n1. Buy milk"}, texts(r))
}

func TestCreateTask_DashDescriptionStoredVerbatim(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "Call mom", "-")
	assert.Equal(t, "-", task.Description)
}

func TestCreateTask_RegistersUnknownUser(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "First", "x")

	_, ok, err := f.mem.GetUser(context.Background(), chat)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateTask_BlankTitleReprompts(t *testing.T) {
	f := newFixture(t)
	f.send(t, "/new")

	r := f.send(t, "   ")
	assert.Equal(t, []string{textEmptyTitle}, texts(r))
	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, session.AwaitingTitle, s.Step)
}

func TestCreateTask_Cancel(t *testing.T) {
	for _, steps := range [][]string{
		{"/new"},
		{"/new", "Title"},
	} {
		f := newFixture(t)
		for _, text := range steps {
			f.send(t, text)
		}
		r := f.send(t, ButtonCancel)
		assert.Equal(t, []string{textCreateCancelled}, texts(r))
		assert.Equal(t, defaultKeyboard, r[0].Keyboard)

		_, ok := f.session(t)
		assert.False(t, ok)
		_, tasks, err := f.mem.Counts(context.Background())
		require.NoError(t, err)
		assert.Zero(t, tasks)
	}
}

func TestCreateTask_CommandsAreTitles(t *testing.T) {
	f := newFixture(t)
	f.send(t, "/new")
	f.send(t, "/todo")
	f.send(t, "desc")

	tasks, err := f.mem.ListByOwner(context.Background(), chat)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "/todo", tasks[0].Title)
}

func TestTaskNumber_OpensEditing(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "Write report", "quarterly")

	for _, ref := range []string{"1", "/1"} {
		r := f.send(t, ref)
		require.Len(t, r, 2)
		assert.Equal(t, "Задача №1 📌\n\nНазвание: Write report\n\nОписание: quarterly", r[0].Text)
		assert.Equal(t, textWhatToChange, r[1].Text)
		assert.Equal(t, editKeyboard, r[1].Keyboard)

		s, ok := f.session(t)
		require.True(t, ok)
		assert.Equal(t, session.EditingTask, s.Mode)
		assert.Equal(t, session.SelectingField, s.Step)
		assert.Equal(t, task.ID, s.TargetTaskID)

		f.send(t, ButtonBack)
	}
}

func TestTaskNumber_Unknown(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "Only", "x")

	for _, ref := range []string{"2", "/0", "-1"} {
		r := f.send(t, ref)
		assert.Equal(t, []string{textNoSuchNumber}, texts(r), "ref %q", ref)
		_, ok := f.session(t)
		assert.False(t, ok)
	}
}

func TestTaskNumber_UsesDeadlineOrder(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "later", "x")
	soon := f.createTask(t, "soon", "x")

	f.send(t, "2")
	f.send(t, ButtonDeadline)
	f.send(t, "2030-01-01")

	r := f.send(t, "1")
	assert.Contains(t, r[0].Text, "Название: soon")
	s, _ := f.session(t)
	assert.Equal(t, soon.ID, s.TargetTaskID)
}

func TestEdit_Title(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "old", "x")
	f.send(t, "1")

	r := f.send(t, ButtonTitle)
	assert.Equal(t, []string{textAskNewTitle}, texts(r))
	s, _ := f.session(t)
	assert.Equal(t, session.EditingTitle, s.Step)

	r = f.send(t, "new")
	assert.Equal(t, []string{textTitleChanged, textListHeader + "\n1. new"}, texts(r))
	assert.Equal(t, defaultKeyboard, last(r).Keyboard)
	_, ok := f.session(t)
	assert.False(t, ok)

	stored, err := f.mem.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Title)
}

func TestEdit_DescriptionReturnsToFieldMenu(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "old")
	f.send(t, "1")
	f.send(t, ButtonDescription)

	r := f.send(t, "fresh")
	require.Len(t, r, 3)
	assert.Equal(t, textDescChanged, r[0].Text)
	assert.Equal(t, "Задача №1 📌\n\nНазвание: t\n\nОписание: fresh", r[1].Text)
	assert.Equal(t, textWhatToChange, r[2].Text)
	assert.Equal(t, editKeyboard, r[2].Keyboard)

	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, session.SelectingField, s.Step)
	assert.Equal(t, task.ID, s.TargetTaskID)
}

func TestEdit_Deadline(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "x")
	f.send(t, "1")

	r := f.send(t, ButtonDeadline)
	assert.Equal(t, []string{textAskDeadline}, texts(r))
	assert.Equal(t, deadlineKeyboard, r[0].Keyboard)

	r = f.send(t, "2025-13-01")
	assert.Equal(t, []string{textDeadlineInvalid}, texts(r))
	s, _ := f.session(t)
	assert.Equal(t, session.EditingDeadline, s.Step)

	r = f.send(t, "1 March")
	assert.Equal(t, []string{textDeadlineFormat}, texts(r))
	s, _ = f.session(t)
	assert.Equal(t, session.EditingDeadline, s.Step)

	r = f.send(t, "2025-03-01")
	assert.Equal(t, []string{textDeadlineSet, textListHeader + "\n1. t до 2025-03-01"}, texts(r))
	_, ok := f.session(t)
	assert.False(t, ok)

	stored, err := f.mem.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Deadline)
	assert.Equal(t, "2025-03-01", todo.FormatDate(*stored.Deadline))
}

func TestEdit_DeadlineCancel(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "x")
	f.send(t, "1")
	f.send(t, ButtonDeadline)

	r := f.send(t, ButtonCancel)
	require.Len(t, r, 3)
	assert.Equal(t, textDeadlineCancel, r[0].Text)
	assert.Equal(t, editKeyboard, r[2].Keyboard)

	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, session.SelectingField, s.Step)

	stored, _ := f.mem.Get(context.Background(), task.ID)
	assert.Nil(t, stored.Deadline)
}

func TestEdit_ToggleImportant(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "x")

	f.send(t, "1")
	r := f.send(t, ButtonImportant)
	assert.Equal(t, []string{textMarkedImportant, textListHeader + "\n1. t ❗"}, texts(r))
	stored, _ := f.mem.Get(context.Background(), task.ID)
	assert.True(t, stored.Important)

	r = f.send(t, "1")
	assert.True(t, strings.HasPrefix(r[0].Text, "❗ Важная задача №1"))

	r = f.send(t, ButtonImportant)
	assert.Equal(t, textUnmarkedImportant, r[0].Text)
	stored, _ = f.mem.Get(context.Background(), task.ID)
	assert.False(t, stored.Important)
}

func TestEdit_Complete(t *testing.T) {
	f := newFixture(t)
	done := f.createTask(t, "done", "x")
	f.createTask(t, "left", "x")

	f.send(t, "1")
	r := f.send(t, ButtonComplete)
	assert.Equal(t, []string{textTaskCompleted, textListHeader + "\n1. left"}, texts(r))

	_, err := f.mem.Get(context.Background(), done.ID)
	assert.ErrorIs(t, err, todo.ErrNotFound)
	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestEdit_Back(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "t", "x")
	f.send(t, "1")

	r := f.send(t, ButtonBack)
	assert.Equal(t, []string{textListHeader + "\n1. t"}, texts(r))
	assert.Equal(t, defaultKeyboard, r[0].Keyboard)
	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestEdit_UnrecognizedFieldReprompts(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "t", "x")
	f.send(t, "1")
	before, _ := f.session(t)

	for _, text := range []string{"whatever", "/todo", ButtonCancel} {
		r := f.send(t, text)
		assert.Equal(t, []string{textUnknownField}, texts(r))
		assert.Equal(t, editKeyboard, r[0].Keyboard)
		after, ok := f.session(t)
		require.True(t, ok)
		assert.Equal(t, before, after)
	}
}

func TestEdit_TargetDeleted(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "x")
	f.send(t, "1")
	f.send(t, ButtonTitle)

	require.NoError(t, f.mem.Delete(context.Background(), task.ID))

	r := f.send(t, "renamed")
	assert.Equal(t, []string{textTaskNotFound}, texts(r))
	assert.Equal(t, defaultKeyboard, r[0].Keyboard)
	_, ok := f.session(t)
	assert.False(t, ok)
}

func TestStoreFailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.send(t, "/new")
	f.send(t, "title")
	before, _ := f.session(t)

	boom := errors.New("disk full")
	f.tasks.createErr = boom

	r, err := f.h.HandleMessage(context.Background(), chat, "desc", alice)
	require.ErrorIs(t, err, boom)
	require.Len(t, r, 1)
	assert.Equal(t, textInternalError, r[0].Text)
	assert.Equal(t, createKeyboard, r[0].Keyboard)

	after, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, before, after)

	f.tasks.createErr = nil
	r = f.send(t, "desc")
	assert.Equal(t, "Задача «title» создана!", r[0].Text)
}

func TestStoreFailureDuringEdit(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "t", "x")
	f.send(t, "1")
	f.send(t, ButtonDeadline)
	before, _ := f.session(t)

	f.tasks.saveErr = errors.New("locked")
	_, err := f.h.HandleMessage(context.Background(), chat, "2025-03-01", alice)
	require.Error(t, err)
	after, _ := f.session(t)
	assert.Equal(t, before, after)

	f.tasks.saveErr = nil
	f.send(t, ButtonCancel)
	f.tasks.deleteErr = errors.New("locked")
	_, err = f.h.HandleMessage(context.Background(), chat, ButtonComplete, alice)
	require.Error(t, err)
	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, session.SelectingField, s.Step)
}

func TestTaskNumber_SignedAndHuge(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "t", "x")

	r := f.send(t, "+1")
	assert.Equal(t, []string{textUnknownCommand}, texts(r))
	_, ok := f.session(t)
	assert.False(t, ok)

	r = f.send(t, "99999999999999999999999")
	assert.Equal(t, []string{textNoSuchNumber}, texts(r))
	_, ok = f.session(t)
	assert.False(t, ok)
}

func TestRenderFailureAfterCreateKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.send(t, "/new")
	f.send(t, "title")
	f.tasks.failListAfterNextWrite(errors.New("list failed"))

	r := f.send(t, "desc")
	assert.Equal(t, []string{"Задача «title» создана!", textInternalError}, texts(r))
	assert.Equal(t, defaultKeyboard, last(r).Keyboard)
	_, ok := f.session(t)
	assert.False(t, ok, "session must end once the task exists")

	f.tasks.listErrAfterWrite = nil
	r = f.send(t, "desc")
	assert.Equal(t, []string{textUnknownCommand}, texts(r))
	tasks, err := f.mem.ListByOwner(context.Background(), chat)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRenderFailureAfterCompleteEndsSession(t *testing.T) {
	f := newFixture(t)
	done := f.createTask(t, "done", "x")
	f.send(t, "1")
	f.tasks.failListAfterNextWrite(errors.New("list failed"))

	r := f.send(t, ButtonComplete)
	assert.Equal(t, []string{textTaskCompleted, textInternalError}, texts(r))
	_, ok := f.session(t)
	assert.False(t, ok, "no session may point at a deleted task")
	_, err := f.mem.Get(context.Background(), done.ID)
	assert.ErrorIs(t, err, todo.ErrNotFound)
}

func TestRenderFailureAfterToggleKeepsFlag(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "t", "x")
	f.send(t, "1")
	f.tasks.failListAfterNextWrite(errors.New("list failed"))

	r := f.send(t, ButtonImportant)
	assert.Equal(t, []string{textMarkedImportant, textInternalError}, texts(r))
	_, ok := f.session(t)
	assert.False(t, ok)

	f.tasks.listErrAfterWrite = nil
	stored, err := f.mem.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, stored.Important)

	// A retry of the same button lands in the idle state and cannot flip the flag back.
	r = f.send(t, ButtonImportant)
	assert.Equal(t, []string{textUnknownCommand}, texts(r))
	stored, _ = f.mem.Get(context.Background(), task.ID)
	assert.True(t, stored.Important)
}

func TestOtherOwnersTasksAreInvisible(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "mine", "x")

	r, err := f.h.HandleMessage(context.Background(), chat+1, "1", todo.Profile{FirstName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{textNoSuchNumber}, texts(r))
}

func TestHandlerKeyboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kb, err := f.h.Keyboard(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, defaultKeyboard, kb)

	f.send(t, "/new")
	kb, err = f.h.Keyboard(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, createKeyboard, kb)
}

func TestConcurrentChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const chats = 20
	var wg sync.WaitGroup
	for i := range chats {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for _, text := range []string{"/new", fmt.Sprintf("task %d", id), "-"} {
				_, err := f.h.HandleMessage(ctx, id, text, todo.Profile{})
				assert.NoError(t, err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	users, tasks, err := f.mem.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, chats, users)
	assert.Equal(t, chats, tasks)
	assert.Zero(t, f.sessions.Len())
}
