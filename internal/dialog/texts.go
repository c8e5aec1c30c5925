package dialog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stellarlinkco/remindme/internal/todo"
)

const (
	textHelp = "Список команд:\n" +
		"Команда /start - приветственное сообщение\n" +
		"Команда /new - создать новую задачу\n" +
		"Команда /todo - посмотреть список задач\n" +
		"Команда /notify - настроить уведомления\n" +
		"Чтобы редактировать задачу достаточно просто ввести " +
		"её номер в списке. Например /2 (Можно без \"/\")"

	textStartFollowUp = "Давай создадим твою первую задачу, " +
		"для этого нажми кнопку «Новая задача» на клавиатуре " +
		"или просто введи команду /new."

	textUnknownCommand    = "Простите, команда не распознана"
	textNoSuchNumber      = "Нет задачи с таким номером. Проверьте /todo"
	textTaskNotFound      = "Задача не найдена. Проверьте /todo"
	textInternalError     = "Что-то пошло не так. Попробуйте ещё раз."
	textEmptyList         = "У вас пока нет задач. Создайте первую командой /new"
	textListHeader        = "Список задач ⚡:"
	textAskTitle          = "Введите название задачи"
	textAskDescription    = "Введите описание задачи"
	textEmptyTitle        = "Название не может быть пустым. Введите название"
	textCreateCancelled   = "Создание задачи отменено"
	textWhatToChange      = "Что вы хотите изменить?"
	textAskNewTitle       = "Введите новое название"
	textAskNewDesc        = "Введите новое описание"
	textAskDeadline       = "Введите дату дедлайна в формате \"yyyy-mm-dd\""
	textTitleChanged      = "Название изменено!"
	textDescChanged       = "Описание изменено!"
	textDeadlineSet       = "Дедлайн задачи установлен!"
	textDeadlineCancel    = "Установка дедлайна отменена"
	textDeadlineFormat    = "Пожалуйста, введите дату в формате \"yyyy-mm-dd\"."
	textDeadlineInvalid   = "Введите корректную дату"
	textMarkedImportant   = "Задача отмечена как важная!"
	textUnmarkedImportant = "Задача больше не отмечена как важная!"
	textTaskCompleted     = "Задача выполнена!"
)

var textUnknownField = "Выберите, что изменить: " + strings.Join([]string{
	ButtonTitle, ButtonDescription, ButtonDeadline, ButtonImportant, ButtonComplete, ButtonBack,
}, ", ")

func textGreeting(name string) string {
	return "Привет, " + name + "! Я RemindMe7 ⚡\n" +
		"Я помогу тебе вести свой TODO-лист задач.\n\n" +
		"Ты будешь создавать задачи 📌, а я буду:\n" +
		" - следить за их дедлайнами\n" +
		" - структурировать их по времени\n" +
		" - напоминать о важных ❗\n"
}

func textTaskCreated(title string) string {
	return "Задача «" + title + "» создана!"
}

// DefaultNotifyInfo describes the built-in reminder policy.
func DefaultNotifyInfo(schedule string) string {
	return fmt.Sprintf("RemindMe7 проверяет дедлайны каждый день по расписанию «%s» и напоминает "+
		"за день до дедлайна (для обычной задачи) и за 2 дня и за день до дедлайна (для важной задачи).", schedule)
}

func taskDetail(t todo.Task) string {
	var sb strings.Builder
	if t.Important {
		sb.WriteString("❗ Важная з")
	} else {
		sb.WriteString("З")
	}
	sb.WriteString("адача №")
	sb.WriteString(strconv.Itoa(t.SeqNumber))
	sb.WriteString(" 📌\n\n")
	sb.WriteString("Название: ")
	sb.WriteString(t.Title)
	sb.WriteString("\n\nОписание: ")
	sb.WriteString(t.Description)
	if t.Deadline != nil {
		sb.WriteString("\n\nДедлайн: ")
		sb.WriteString(todo.FormatDate(*t.Deadline))
	}
	return sb.String()
}

func taskList(tasks []todo.Task) string {
	if len(tasks) == 0 {
		return textEmptyList
	}
	var sb strings.Builder
	sb.WriteString(textListHeader)
	for line := range todo.Lines(tasks) {
		sb.WriteByte('\n')
		sb.WriteString(line)
	}
	return sb.String()
}
