package dialog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stellarlinkco/remindme/internal/session"
)

// Buttons and keywords. Matching is exact; there is no normalisation beyond
// the aliases listed in commandAliases.
const (
	ButtonList    = "Лист"
	ButtonNewTask = "Новая задача"
	ButtonNotify  = "Уведомления"

	ButtonTitle       = "Название"
	ButtonDescription = "Описание"
	ButtonDeadline    = "Дедлайн"
	ButtonImportant   = "Отметить важным"
	ButtonComplete    = "Выполнить"
	ButtonBack        = "Назад"

	ButtonCancel = "Отменить"
	ButtonDash   = "-"
)

// Command is a top-level command recognised when no session is active.
type Command int

const (
	CmdUnknown Command = iota
	CmdStart
	CmdHelp
	CmdList
	CmdNewTask
	CmdNotify
	CmdTaskNumber
)

var commandAliases = map[string]Command{
	"/start": CmdStart,

	"/help": CmdHelp,
	"help":  CmdHelp,

	"/todo":    CmdList,
	"todo":     CmdList,
	ButtonList: CmdList,

	"/new":        CmdNewTask,
	"new":         CmdNewTask,
	ButtonNewTask: CmdNewTask,

	"/notify":    CmdNotify,
	"notify":     CmdNotify,
	ButtonNotify: CmdNotify,
}

var digits = regexp.MustCompile(`^[0-9]+$`)

// ParseCommand classifies top-level input. A run of ASCII digits, with or
// without a leading slash, is a task number reference and is returned in n.
// A number too large to be an int is still a reference; n is then 0, which
// matches no task.
func ParseCommand(text string) (cmd Command, n int) {
	if cmd, ok := commandAliases[text]; ok {
		return cmd, 0
	}
	num := strings.TrimPrefix(text, "/")
	if !digits.MatchString(num) {
		return CmdUnknown, 0
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return CmdTaskNumber, 0
	}
	return CmdTaskNumber, n
}

// Input is the category of a message received inside a session.
type Input int

const (
	InputText Input = iota
	InputCancel
	InputEditTitle
	InputEditDescription
	InputEditDeadline
	InputToggleImportant
	InputComplete
	InputBack
)

var inputKeywords = map[string]Input{
	ButtonCancel:      InputCancel,
	ButtonTitle:       InputEditTitle,
	ButtonDescription: InputEditDescription,
	ButtonDeadline:    InputEditDeadline,
	ButtonImportant:   InputToggleImportant,
	ButtonComplete:    InputComplete,
	ButtonBack:        InputBack,
}

func classify(text string) Input {
	if in, ok := inputKeywords[text]; ok {
		return in
	}
	return InputText
}

var (
	defaultKeyboard = [][]string{
		{ButtonList},
		{ButtonNewTask},
	}
	editKeyboard = [][]string{
		{ButtonTitle, ButtonDescription, ButtonDeadline},
		{ButtonImportant, ButtonComplete, ButtonBack},
	}
	createKeyboard = [][]string{
		{ButtonDash, ButtonCancel},
	}
	deadlineKeyboard = [][]string{
		{ButtonCancel},
	}
)

// KeyboardFor returns the reply keyboard that goes with a session state.
// A nil session means Idle.
func KeyboardFor(s *session.Session) [][]string {
	switch {
	case s == nil:
		return defaultKeyboard
	case s.Mode == session.CreatingTask:
		return createKeyboard
	case s.Mode == session.EditingTask && s.Step == session.EditingDeadline:
		return deadlineKeyboard
	case s.Mode == session.EditingTask:
		return editKeyboard
	default:
		return defaultKeyboard
	}
}

// BotCommands is the command menu advertised to the chat platform.
var BotCommands = []struct {
	Command     string
	Description string
}{
	{"start", "Начать общение с ботом"},
	{"help", "Список команд"},
	{"new", "Новая задача"},
	{"todo", "Список задач"},
	{"1", "Редактировать задачу 1"},
	{"2", "Редактировать задачу 2"},
	{"notify", "Настроить уведомления"},
}
