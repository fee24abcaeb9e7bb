package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/keylock"
	"github.com/weiawesome/site-journal/pkg/database"
	"github.com/weiawesome/site-journal/pkg/log"
)

// GormChatRepository implements ChatRepository on postgres, mysql or sqlite.
// Appends are serialized per chat inside the process so that commit order
// matches id order and keyset readers never see a gap fill in behind them.
type GormChatRepository struct {
	db    *gorm.DB
	seq   idgen.Sequencer
	locks *keylock.Locker
}

// NewGormChatRepository takes ownership of db; Close releases it.
func NewGormChatRepository(db *gorm.DB, seq idgen.Sequencer) *GormChatRepository {
	return &GormChatRepository{
		db:    db,
		seq:   seq,
		locks: keylock.New(),
	}
}

// Migrate creates or updates the chat tables.
func (r *GormChatRepository) Migrate() error {
	return database.AutoMigrate(r.db, domain.Models()...)
}

func gormError(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrValidation):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.StorageError(op, err)
	}
}

func (r *GormChatRepository) CreateChat(ctx context.Context, objectID string) (*domain.Chat, error) {
	l := log.Ctx(ctx)

	now := time.Now().UTC().Truncate(time.Millisecond)
	model := &domain.ChatModel{
		ID:             uuid.New().String(),
		ObjectID:       objectID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "object_id"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldObjectID, objectID).Msg("failed to create chat in db")
		return nil, gormError("create chat", result.Error, domain.ErrChatNotFound)
	}
	if result.RowsAffected == 1 {
		l.Debug().Str(log.FieldChatID, model.ID).Str(log.FieldObjectID, objectID).Msg("chat created in db")
	}

	// Another writer may have won the race; the stored row is canonical.
	return r.GetChatByObjectID(ctx, objectID)
}

func (r *GormChatRepository) GetChatByObjectID(ctx context.Context, objectID string) (*domain.Chat, error) {
	var model domain.ChatModel
	if err := r.db.WithContext(ctx).Take(&model, "object_id = ?", objectID).Error; err != nil {
		return nil, gormError("get chat by object", err, domain.ErrChatNotFound)
	}
	return model.ToDomain(), nil
}

func (r *GormChatRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	var model domain.ChatModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", chatID).Error; err != nil {
		return nil, gormError("get chat", err, domain.ErrChatNotFound)
	}
	return model.ToDomain(), nil
}

func (r *GormChatRepository) AppendMessage(ctx context.Context, chatID string, draft *domain.MessageDraft) (*domain.AppendResult, error) {
	l := log.Ctx(ctx)

	unlock := r.locks.Lock(chatID)
	defer unlock()

	var result domain.AppendResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat domain.ChatModel
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			return gormError("load chat", err, domain.ErrChatNotFound)
		}

		if draft.ClientMsgID != "" {
			var existing domain.MessageModel
			err := tx.Take(&existing, "chat_id = ? AND author_id = ? AND client_msg_id = ?",
				chatID, draft.AuthorID, draft.ClientMsgID).Error
			switch {
			case err == nil:
				msg := existing.ToDomain()
				if !msg.SameContent(draft) {
					return domain.ErrClientIDReused
				}
				result = domain.AppendResult{Message: msg, Duplicate: true}
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return gormError("lookup client message id", err, domain.ErrMessageNotFound)
			}
		}

		stamp, err := r.seq.Next()
		if err != nil {
			return domain.StorageError("assign message id", err)
		}

		msg := &domain.Message{
			ID:          stamp.ID,
			ChatID:      chatID,
			ObjectID:    chat.ObjectID,
			AuthorID:    draft.AuthorID,
			Body:        draft.Body,
			Attachment:  draft.Attachment,
			TaskIDs:     draft.TaskIDs,
			ClientMsgID: draft.ClientMsgID,
			CreatedAt:   stamp.Time,
		}
		if err := tx.Create(domain.MessageToModel(msg)).Error; err != nil {
			return gormError("insert message", err, domain.ErrChatNotFound)
		}

		err = tx.Model(&domain.ChatModel{}).
			Where("id = ? AND last_activity_at < ?", chatID, stamp.Time).
			Update("last_activity_at", stamp.Time).Error
		if err != nil {
			return gormError("bump chat activity", err, domain.ErrChatNotFound)
		}

		result = domain.AppendResult{Message: msg}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to append message")
		}
		return nil, gormError("append message", err, domain.ErrChatNotFound)
	}

	l.Debug().Str(log.FieldChatID, chatID).Str(log.FieldMessageID, result.Message.ID).
		Bool("duplicate", result.Duplicate).Msg("message appended in db")
	return &result, nil
}

func (r *GormChatRepository) ListMessages(ctx context.Context, chatID string, q domain.PageQuery) (*domain.MessagePage, error) {
	q = q.Normalize()

	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	order := "created_at ASC, id ASC"
	if q.Direction == domain.Backward {
		order = "created_at DESC, id DESC"
	}
	if c := q.Cursor; !c.IsZero() {
		if q.Direction == domain.Backward {
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", c.CreatedAt, c.CreatedAt, c.MessageID)
		} else {
			query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", c.CreatedAt, c.CreatedAt, c.MessageID)
		}
	}

	var models []domain.MessageModel
	if err := query.Order(order).Limit(q.Limit + 1).Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to list messages from db")
		return nil, gormError("list messages", err, domain.ErrChatNotFound)
	}

	// An empty page may mean the chat does not exist at all.
	if len(models) == 0 {
		if _, err := r.GetChat(ctx, chatID); err != nil {
			return nil, err
		}
	}

	rows := make([]*domain.Message, len(models))
	for i := range models {
		rows[i] = models[i].ToDomain()
	}
	return domain.NewMessagePage(chatID, rows, q.Limit), nil
}

func (r *GormChatRepository) ListChats(ctx context.Context) ([]*domain.Chat, error) {
	var models []domain.ChatModel
	if err := r.db.WithContext(ctx).Order("last_activity_at DESC, id ASC").Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to list chats from db")
		return nil, gormError("list chats", err, domain.ErrChatNotFound)
	}

	chats := make([]*domain.Chat, len(models))
	for i := range models {
		chats[i] = models[i].ToDomain()
	}
	return chats, nil
}

func (r *GormChatRepository) MarkRead(ctx context.Context, chatID, userID, messageID string) (*domain.ReadMarker, error) {
	unlock := r.locks.Lock(markerKey(chatID, userID))
	defer unlock()

	var marker *domain.ReadMarker
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target domain.MessageModel
		if err := tx.Take(&target, "id = ? AND chat_id = ?", messageID, chatID).Error; err != nil {
			return gormError("load read target", err, domain.ErrMessageNotFound)
		}

		var current domain.ReadMarkerModel
		err := tx.Take(&current, "chat_id = ? AND user_id = ?", chatID, userID).Error
		switch {
		case err == nil:
			cur := current.ToDomain()
			if !cur.Position().Less(target.ToDomain().Position()) {
				marker = cur
				return nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return gormError("load read marker", err, domain.ErrNotFound)
		}

		model := &domain.ReadMarkerModel{
			ChatID:           chatID,
			UserID:           userID,
			MessageID:        target.ID,
			MessageCreatedAt: target.CreatedAt.UTC(),
			ReadAt:           time.Now().UTC().Truncate(time.Millisecond),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"message_id", "message_created_at", "read_at"}),
		}).Create(model).Error
		if err != nil {
			return gormError("save read marker", err, domain.ErrNotFound)
		}
		marker = model.ToDomain()
		return nil
	})
	if err != nil {
		return nil, gormError("mark read", err, domain.ErrMessageNotFound)
	}
	return marker, nil
}

func (r *GormChatRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	query := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("chat_id = ? AND author_id <> ?", chatID, userID)

	var marker domain.ReadMarkerModel
	err := r.db.WithContext(ctx).Take(&marker, "chat_id = ? AND user_id = ?", chatID, userID).Error
	switch {
	case err == nil:
		at := marker.MessageCreatedAt.UTC()
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", at, at, marker.MessageID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, gormError("load read marker", err, domain.ErrNotFound)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, gormError("count unread", err, domain.ErrNotFound)
	}
	return int(count), nil
}

func (r *GormChatRepository) Close() error {
	return database.Close(r.db)
}
