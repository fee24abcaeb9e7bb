package service

import (
	"context"

	"github.com/weiawesome/site-journal/internal/domain"
)

// Message sources, used as the metrics path label.
const (
	SourceHTTP   = "http"
	SourceSocket = "socket"
)

// SendResult is the canonical stored message. Duplicate is set when the
// send repeated an earlier client message id.
type SendResult struct {
	Message   *domain.Message
	Duplicate bool
}

// Snapshot is the catch-up state handed to a new subscriber. ChatID is empty
// when the object has no chat yet.
type Snapshot struct {
	ObjectID    string
	ChatID      string
	Messages    []*domain.Message
	UnreadCount int
}

type ChatService interface {
	SendMessage(ctx context.Context, objectID string, draft domain.MessageDraft, source string) (*SendResult, error)
	GetHistory(ctx context.Context, objectID string, q domain.PageQuery) (*domain.MessagePage, error)
	Snapshot(ctx context.Context, objectID, viewerID string, n int) (*Snapshot, error)

	// Catchup runs join, reads the snapshot and hands it to deliver while no
	// message for objectID can be appended, so a subscriber sees every
	// message exactly once: in the snapshot or as a live event.
	Catchup(ctx context.Context, objectID, viewerID string, join func() error, deliver func(*Snapshot) error) error

	ListChatsOverview(ctx context.Context, viewerID string) ([]*domain.ChatOverview, error)
	MarkRead(ctx context.Context, objectID, userID, messageID string) (*domain.ReadMarker, error)
	GetChat(ctx context.Context, objectID string) (*domain.Chat, error)
}
