package domain

import (
	"time"

	"github.com/weiawesome/site-journal/pkg/database"
)

// ChatModel is the GORM model for the chats table.
type ChatModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ObjectID       string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	LastActivityAt time.Time `gorm:"index;not null"`
}

func (ChatModel) TableName() string {
	return "chats"
}

func (m *ChatModel) ToDomain() *Chat {
	return &Chat{
		ID:             m.ID,
		ObjectID:       m.ObjectID,
		CreatedAt:      m.CreatedAt.UTC(),
		LastActivityAt: m.LastActivityAt.UTC(),
	}
}

// MessageModel is the GORM model for the messages table. The
// (chat_id, created_at, id) index serves keyset pagination; the client key
// index makes retried sends idempotent per author.
type MessageModel struct {
	ID          string              `gorm:"type:varchar(32);primaryKey;index:idx_messages_chat_order,priority:3"`
	ChatID      string              `gorm:"type:varchar(36);not null;index:idx_messages_chat_order,priority:1;uniqueIndex:idx_messages_client_key,priority:1"`
	ObjectID    string              `gorm:"type:varchar(128);not null"`
	AuthorID    string              `gorm:"type:varchar(128);not null;uniqueIndex:idx_messages_client_key,priority:2"`
	Body        string              `gorm:"type:text"`
	Attachment  string              `gorm:"type:varchar(1024)"`
	TaskIDs     database.StringList `gorm:"type:text"`
	ClientMsgID *string             `gorm:"type:varchar(128);uniqueIndex:idx_messages_client_key,priority:3"`
	CreatedAt   time.Time           `gorm:"not null;index:idx_messages_chat_order,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		ObjectID:   m.ObjectID,
		AuthorID:   m.AuthorID,
		Body:       m.Body,
		Attachment: m.Attachment,
		TaskIDs:    []string(m.TaskIDs),
		CreatedAt:  m.CreatedAt.UTC(),
	}
	if m.ClientMsgID != nil {
		msg.ClientMsgID = *m.ClientMsgID
	}
	return msg
}

// MessageToModel converts a domain Message to MessageModel. An empty client
// id is stored as NULL so it never collides in the unique index.
func MessageToModel(m *Message) *MessageModel {
	model := &MessageModel{
		ID:         m.ID,
		ChatID:     m.ChatID,
		ObjectID:   m.ObjectID,
		AuthorID:   m.AuthorID,
		Body:       m.Body,
		Attachment: m.Attachment,
		TaskIDs:    database.StringList(m.TaskIDs),
		CreatedAt:  m.CreatedAt,
	}
	if m.ClientMsgID != "" {
		id := m.ClientMsgID
		model.ClientMsgID = &id
	}
	return model
}

// ReadMarkerModel is the GORM model for the chat_read_markers table.
type ReadMarkerModel struct {
	ChatID           string    `gorm:"type:varchar(36);primaryKey"`
	UserID           string    `gorm:"type:varchar(128);primaryKey"`
	MessageID        string    `gorm:"type:varchar(32);not null"`
	MessageCreatedAt time.Time `gorm:"not null"`
	ReadAt           time.Time `gorm:"not null"`
}

func (ReadMarkerModel) TableName() string {
	return "chat_read_markers"
}

func (m *ReadMarkerModel) ToDomain() *ReadMarker {
	return &ReadMarker{
		ChatID:           m.ChatID,
		UserID:           m.UserID,
		MessageID:        m.MessageID,
		MessageCreatedAt: m.MessageCreatedAt.UTC(),
		ReadAt:           m.ReadAt.UTC(),
	}
}

// Models lists every table the relational store migrates.
func Models() []interface{} {
	return []interface{}{&ChatModel{}, &MessageModel{}, &ReadMarkerModel{}}
}
