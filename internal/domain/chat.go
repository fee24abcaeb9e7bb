package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxBodyLength = 4000
	MaxTaskIDs           = 20
	MaxClientMsgIDLength = 128
)

// Chat is the conversation bound to exactly one object.
type Chat struct {
	ID             string    `json:"id"`
	ObjectID       string    `json:"object_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Message is an immutable entry in a chat. ID and CreatedAt are assigned by
// the store; within a chat messages are ordered by (CreatedAt, ID).
type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	ObjectID    string    `json:"object_id"`
	AuthorID    string    `json:"author_id"`
	Body        string    `json:"body"`
	Attachment  string    `json:"attachment,omitempty"`
	TaskIDs     []string  `json:"task_ids,omitempty"`
	ClientMsgID string    `json:"client_message_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Position returns the ordering key of the message.
func (m *Message) Position() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, MessageID: m.ID}
}

// Before reports whether m sorts strictly before other.
func (m *Message) Before(other *Message) bool {
	return m.Position().Less(other.Position())
}

// SameContent reports whether a retried draft matches a stored message.
func (m *Message) SameContent(d *MessageDraft) bool {
	if m.Body != d.Body || m.Attachment != d.Attachment || len(m.TaskIDs) != len(d.TaskIDs) {
		return false
	}
	for i := range m.TaskIDs {
		if m.TaskIDs[i] != d.TaskIDs[i] {
			return false
		}
	}
	return true
}

// MessageDraft is everything a caller may supply for a new message.
type MessageDraft struct {
	AuthorID    string
	Body        string
	Attachment  string
	TaskIDs     []string
	ClientMsgID string
}

// Normalize trims whitespace and drops empty task ids.
func (d *MessageDraft) Normalize() {
	d.AuthorID = strings.TrimSpace(d.AuthorID)
	d.Attachment = strings.TrimSpace(d.Attachment)
	d.ClientMsgID = strings.TrimSpace(d.ClientMsgID)
	if strings.TrimSpace(d.Body) == "" {
		d.Body = ""
	}

	var tasks []string
	for _, t := range d.TaskIDs {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	d.TaskIDs = tasks
}

// Validate checks the draft. maxBody <= 0 uses DefaultMaxBodyLength.
func (d *MessageDraft) Validate(maxBody int) error {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyLength
	}
	if d.AuthorID == "" {
		return Validationf("author is required")
	}
	if d.Body == "" && d.Attachment == "" {
		return Validationf("body or attachment is required")
	}
	if n := utf8.RuneCountInString(d.Body); n > maxBody {
		return Validationf("body is %d characters, limit is %d", n, maxBody)
	}
	if len(d.TaskIDs) > MaxTaskIDs {
		return Validationf("at most %d task references are allowed", MaxTaskIDs)
	}
	if len(d.ClientMsgID) > MaxClientMsgIDLength {
		return Validationf("client_message_id is longer than %d", MaxClientMsgIDLength)
	}
	return nil
}

// AppendResult is returned by the store for every append. Duplicate is set
// when the draft repeated a client message id and the stored message was
// returned instead of a new one.
type AppendResult struct {
	Message   *Message
	Duplicate bool
}

// ReadMarker records how far a user has read a chat. Markers only move forward.
type ReadMarker struct {
	ChatID           string    `json:"chat_id"`
	UserID           string    `json:"user_id"`
	MessageID        string    `json:"message_id"`
	MessageCreatedAt time.Time `json:"message_created_at"`
	ReadAt           time.Time `json:"read_at"`
}

// Position returns the ordering key of the last read message.
func (r *ReadMarker) Position() Cursor {
	return Cursor{CreatedAt: r.MessageCreatedAt, MessageID: r.MessageID}
}

// ChatOverview is a chat list entry enriched for one viewer.
type ChatOverview struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
