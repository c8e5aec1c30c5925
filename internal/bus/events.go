package bus

import (
	"strconv"
	"time"
)

// Metadata keys set by channels on inbound messages.
const (
	MetaFirstName = "first_name"
	MetaLastName  = "last_name"
	MetaUserName  = "username"
	MetaMessageID = "message_id"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// NumericChatID parses ChatID as the int64 chat identity used by the task
// store.
func (m *InboundMessage) NumericChatID() (int64, error) {
	return strconv.ParseInt(m.ChatID, 10, 64)
}

// Meta returns a string metadata value, or "" when absent.
func (m *InboundMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Keyboard [][]string // reply keyboard rows; nil leaves the current one
	Metadata map[string]any
}
