package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/idgen"
)

// MemoryChatRepository keeps everything in process memory. It backs tests
// and the "memory" store driver; nothing survives a restart.
type MemoryChatRepository struct {
	mu         sync.RWMutex
	seq        idgen.Sequencer
	chats      map[string]*domain.Chat       // chatID -> chat
	byObject   map[string]string             // objectID -> chatID
	messages   map[string][]*domain.Message  // chatID -> messages in order
	clientKeys map[string]*domain.Message    // chat|author|client id -> message
	markers    map[string]*domain.ReadMarker // chat|user -> marker
}

func NewMemoryChatRepository(seq idgen.Sequencer) *MemoryChatRepository {
	return &MemoryChatRepository{
		seq:        seq,
		chats:      make(map[string]*domain.Chat),
		byObject:   make(map[string]string),
		messages:   make(map[string][]*domain.Message),
		clientKeys: make(map[string]*domain.Message),
		markers:    make(map[string]*domain.ReadMarker),
	}
}

func clientKey(chatID, authorID, clientMsgID string) string {
	return chatID + "|" + authorID + "|" + clientMsgID
}

func markerKey(chatID, userID string) string {
	return chatID + "|" + userID
}

func cloneChat(c *domain.Chat) *domain.Chat {
	out := *c
	return &out
}

func cloneMessage(m *domain.Message) *domain.Message {
	out := *m
	out.TaskIDs = slices.Clone(m.TaskIDs)
	return &out
}

func (r *MemoryChatRepository) CreateChat(ctx context.Context, objectID string) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byObject[objectID]; ok {
		return cloneChat(r.chats[id]), nil
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	chat := &domain.Chat{
		ID:             uuid.New().String(),
		ObjectID:       objectID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.chats[chat.ID] = chat
	r.byObject[objectID] = chat.ID
	return cloneChat(chat), nil
}

func (r *MemoryChatRepository) GetChatByObjectID(ctx context.Context, objectID string) (*domain.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byObject[objectID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return cloneChat(r.chats[id]), nil
}

func (r *MemoryChatRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return cloneChat(chat), nil
}

func (r *MemoryChatRepository) AppendMessage(ctx context.Context, chatID string, draft *domain.MessageDraft) (*domain.AppendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}

	if draft.ClientMsgID != "" {
		if existing, ok := r.clientKeys[clientKey(chatID, draft.AuthorID, draft.ClientMsgID)]; ok {
			if !existing.SameContent(draft) {
				return nil, domain.ErrClientIDReused
			}
			return &domain.AppendResult{Message: cloneMessage(existing), Duplicate: true}, nil
		}
	}

	stamp, err := r.seq.Next()
	if err != nil {
		return nil, domain.StorageError("assign message id", err)
	}

	msg := &domain.Message{
		ID:          stamp.ID,
		ChatID:      chatID,
		ObjectID:    chat.ObjectID,
		AuthorID:    draft.AuthorID,
		Body:        draft.Body,
		Attachment:  draft.Attachment,
		TaskIDs:     slices.Clone(draft.TaskIDs),
		ClientMsgID: draft.ClientMsgID,
		CreatedAt:   stamp.Time,
	}

	r.messages[chatID] = append(r.messages[chatID], msg)
	if msg.ClientMsgID != "" {
		r.clientKeys[clientKey(chatID, msg.AuthorID, msg.ClientMsgID)] = msg
	}
	if stamp.Time.After(chat.LastActivityAt) {
		chat.LastActivityAt = stamp.Time
	}

	return &domain.AppendResult{Message: cloneMessage(msg)}, nil
}

func (r *MemoryChatRepository) ListMessages(ctx context.Context, chatID string, q domain.PageQuery) (*domain.MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.chats[chatID]; !ok {
		return nil, domain.ErrChatNotFound
	}
	msgs := r.messages[chatID]

	var rows []*domain.Message
	if q.Direction == domain.Backward {
		end := len(msgs)
		if !q.Cursor.IsZero() {
			end = sort.Search(len(msgs), func(i int) bool {
				return !msgs[i].Position().Less(q.Cursor)
			})
		}
		for i := end - 1; i >= 0 && len(rows) <= q.Limit; i-- {
			rows = append(rows, cloneMessage(msgs[i]))
		}
	} else {
		start := 0
		if !q.Cursor.IsZero() {
			start = sort.Search(len(msgs), func(i int) bool {
				return q.Cursor.Less(msgs[i].Position())
			})
		}
		for i := start; i < len(msgs) && len(rows) <= q.Limit; i++ {
			rows = append(rows, cloneMessage(msgs[i]))
		}
	}

	return domain.NewMessagePage(chatID, rows, q.Limit), nil
}

func (r *MemoryChatRepository) ListChats(ctx context.Context) ([]*domain.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := make([]*domain.Chat, 0, len(r.chats))
	for _, c := range r.chats {
		chats = append(chats, cloneChat(c))
	}
	sortChats(chats)
	return chats, nil
}

func (r *MemoryChatRepository) MarkRead(ctx context.Context, chatID, userID, messageID string) (*domain.ReadMarker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *domain.Message
	for _, m := range r.messages[chatID] {
		if m.ID == messageID {
			target = m
			break
		}
	}
	if target == nil {
		return nil, domain.ErrMessageNotFound
	}

	key := markerKey(chatID, userID)
	if cur, ok := r.markers[key]; ok && !cur.Position().Less(target.Position()) {
		out := *cur
		return &out, nil
	}

	marker := &domain.ReadMarker{
		ChatID:           chatID,
		UserID:           userID,
		MessageID:        target.ID,
		MessageCreatedAt: target.CreatedAt,
		ReadAt:           time.Now().UTC().Truncate(time.Millisecond),
	}
	r.markers[key] = marker
	out := *marker
	return &out, nil
}

func (r *MemoryChatRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	marker := r.markers[markerKey(chatID, userID)]
	count := 0
	for _, m := range r.messages[chatID] {
		if m.AuthorID == userID {
			continue
		}
		if marker != nil && !marker.Position().Less(m.Position()) {
			continue
		}
		count++
	}
	return count, nil
}

func (r *MemoryChatRepository) Close() error {
	return nil
}

// sortChats orders by last activity descending, then id.
func sortChats(chats []*domain.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID < b.ID
	})
}
