package repository

import (
	"context"
	"slices"

	"github.com/weiawesome/site-journal/internal/domain"
)

// ChatRepository is the message store. Implementations own no business
// rules beyond ordering, atomic append and client id deduplication.
type ChatRepository interface {
	// CreateChat returns the chat bound to objectID, creating it on first use.
	CreateChat(ctx context.Context, objectID string) (*domain.Chat, error)
	GetChatByObjectID(ctx context.Context, objectID string) (*domain.Chat, error)
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// AppendMessage assigns id and timestamp, stores the message and bumps
	// the chat's last activity in one atomic step.
	AppendMessage(ctx context.Context, chatID string, draft *domain.MessageDraft) (*domain.AppendResult, error)
	ListMessages(ctx context.Context, chatID string, q domain.PageQuery) (*domain.MessagePage, error)

	// ListChats orders by last activity, newest first.
	ListChats(ctx context.Context) ([]*domain.Chat, error)

	MarkRead(ctx context.Context, chatID, userID, messageID string) (*domain.ReadMarker, error)
	// CountUnread counts messages by other authors after the user's read marker.
	CountUnread(ctx context.Context, chatID, userID string) (int, error)

	Close() error
}

// LastMessage returns the newest message of a chat, or nil when it is empty.
func LastMessage(ctx context.Context, repo ChatRepository, chatID string) (*domain.Message, error) {
	page, err := repo.ListMessages(ctx, chatID, domain.PageQuery{Limit: 1, Direction: domain.Backward})
	if err != nil {
		return nil, err
	}
	if len(page.Messages) == 0 {
		return nil, nil
	}
	return page.Messages[0], nil
}

// Latest returns the newest n messages of a chat in ascending order.
func Latest(ctx context.Context, repo ChatRepository, chatID string, n int) ([]*domain.Message, error) {
	page, err := repo.ListMessages(ctx, chatID, domain.PageQuery{Limit: n, Direction: domain.Backward})
	if err != nil {
		return nil, err
	}
	slices.Reverse(page.Messages)
	return page.Messages, nil
}
