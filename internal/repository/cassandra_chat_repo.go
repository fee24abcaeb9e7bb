package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/weiawesome/site-journal/internal/config"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/idgen"
	"github.com/weiawesome/site-journal/internal/keylock"
	"github.com/weiawesome/site-journal/pkg/log"
)

// Tables are partitioned so every hot query touches one partition:
// messages by chat, chats by object, markers and client keys by chat.
// chats_by_object is only ever written with LWT and holds nothing mutable;
// last_activity_at lives in chats, which never sees LWT writes.
var cassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS chats_by_object (
		object_id text PRIMARY KEY,
		chat_id text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		chat_id text PRIMARY KEY,
		object_id text,
		created_at timestamp,
		last_activity_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages_by_chat (
		chat_id text,
		created_at timestamp,
		message_id text,
		object_id text,
		author_id text,
		body text,
		attachment text,
		task_ids list<text>,
		client_msg_id text,
		PRIMARY KEY ((chat_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`,
	`CREATE TABLE IF NOT EXISTS message_client_keys (
		chat_id text,
		author_id text,
		client_msg_id text,
		message_id text,
		created_at timestamp,
		PRIMARY KEY ((chat_id), author_id, client_msg_id)
	)`,
	`CREATE TABLE IF NOT EXISTS read_markers (
		chat_id text,
		user_id text,
		message_id text,
		message_created_at timestamp,
		read_at timestamp,
		PRIMARY KEY ((chat_id), user_id)
	)`,
}

const messageColumns = `message_id, chat_id, object_id, author_id, body, attachment, task_ids, client_msg_id, created_at`

// CassandraChatRepository implements ChatRepository on Cassandra. Appends
// are serialized per chat in-process and written as one logged batch.
type CassandraChatRepository struct {
	session *gocql.Session
	seq     idgen.Sequencer
	locks   *keylock.Locker
}

func NewCassandraChatRepository(cfg config.CassandraConfig, seq idgen.Sequencer) (*CassandraChatRepository, error) {
	if err := ensureKeyspace(cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	for _, stmt := range cassandraSchema {
		if err := session.Query(stmt).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to apply cassandra schema: %w", err)
		}
	}

	return &CassandraChatRepository{
		session: session,
		seq:     seq,
		locks:   keylock.New(),
	}, nil
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	// Retry policy for resilience
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	return cluster
}

func ensureKeyspace(cfg config.CassandraConfig) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create cassandra session: %w", err)
	}
	defer session.Close()

	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, rf,
	)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

// parseConsistency converts a string consistency level to gocql.Consistency.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}

func cqlError(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocql.ErrNotFound):
		return notFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.StorageError(op, err)
	}
}

// CreateChat claims the object with an LWT insert, then writes the chats
// row. The second write is an idempotent upsert, so a create interrupted
// between the two is repaired by the next call for the same object.
func (r *CassandraChatRepository) CreateChat(ctx context.Context, objectID string) (*domain.Chat, error) {
	l := log.Ctx(ctx)
	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	chatID := uuid.New().String()

	existing := map[string]interface{}{}
	applied, err := r.session.Query(
		`INSERT INTO chats_by_object (object_id, chat_id, created_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		objectID, chatID, createdAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, cqlError("create chat", err, domain.ErrChatNotFound)
	}

	if !applied {
		chatID, createdAt, err = r.lookupObject(ctx, objectID)
		if err != nil {
			return nil, err
		}
		chat, err := r.GetChat(ctx, chatID)
		if !errors.Is(err, domain.ErrNotFound) {
			return chat, err
		}
		l.Warn().Str(log.FieldChatID, chatID).Str(log.FieldObjectID, objectID).Msg("repairing chat row left by an interrupted create")
	}

	err = r.session.Query(
		`INSERT INTO chats (chat_id, object_id, created_at) VALUES (?, ?, ?)`,
		chatID, objectID, createdAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, cqlError("index chat", err, domain.ErrChatNotFound)
	}

	if !applied {
		return r.GetChat(ctx, chatID)
	}
	l.Debug().Str(log.FieldChatID, chatID).Str(log.FieldObjectID, objectID).Msg("chat created in cassandra")
	return &domain.Chat{ID: chatID, ObjectID: objectID, CreatedAt: createdAt, LastActivityAt: createdAt}, nil
}

// lookupObject reads the chat id claimed for objectID.
func (r *CassandraChatRepository) lookupObject(ctx context.Context, objectID string) (string, time.Time, error) {
	var chatID string
	var createdAt time.Time
	err := r.session.Query(
		`SELECT chat_id, created_at FROM chats_by_object WHERE object_id = ?`, objectID,
	).WithContext(ctx).Scan(&chatID, &createdAt)
	if err != nil {
		return "", time.Time{}, cqlError("get chat by object", err, domain.ErrChatNotFound)
	}
	return chatID, createdAt.UTC(), nil
}

// GetChatByObjectID resolves the claimed chat id through the chats table. An
// object whose create never completed has no usable chat yet.
func (r *CassandraChatRepository) GetChatByObjectID(ctx context.Context, objectID string) (*domain.Chat, error) {
	chatID, _, err := r.lookupObject(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return r.GetChat(ctx, chatID)
}

func (r *CassandraChatRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat := &domain.Chat{ID: chatID}
	err := r.session.Query(
		`SELECT object_id, created_at, last_activity_at FROM chats WHERE chat_id = ?`, chatID,
	).WithContext(ctx).Scan(&chat.ObjectID, &chat.CreatedAt, &chat.LastActivityAt)
	if err != nil {
		return nil, cqlError("get chat", err, domain.ErrChatNotFound)
	}
	normalizeChatTimes(chat)
	return chat, nil
}

// normalizeChatTimes converts to UTC; a chat without messages has no
// last_activity_at yet and reports its creation time.
func normalizeChatTimes(c *domain.Chat) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastActivityAt = c.LastActivityAt.UTC()
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
}

func (r *CassandraChatRepository) AppendMessage(ctx context.Context, chatID string, draft *domain.MessageDraft) (*domain.AppendResult, error) {
	l := log.Ctx(ctx)

	unlock := r.locks.Lock(chatID)
	defer unlock()

	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if draft.ClientMsgID != "" {
		var messageID string
		var createdAt time.Time
		err := r.session.Query(
			`SELECT message_id, created_at FROM message_client_keys WHERE chat_id = ? AND author_id = ? AND client_msg_id = ?`,
			chatID, draft.AuthorID, draft.ClientMsgID,
		).WithContext(ctx).Scan(&messageID, &createdAt)
		switch {
		case err == nil:
			existing, err := r.getMessage(ctx, chatID, createdAt, messageID)
			if err != nil {
				return nil, err
			}
			if !existing.SameContent(draft) {
				return nil, domain.ErrClientIDReused
			}
			return &domain.AppendResult{Message: existing, Duplicate: true}, nil
		case !errors.Is(err, gocql.ErrNotFound):
			return nil, cqlError("lookup client message id", err, domain.ErrMessageNotFound)
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
		TaskIDs:     draft.TaskIDs,
		ClientMsgID: draft.ClientMsgID,
		CreatedAt:   stamp.Time,
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages_by_chat (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.ObjectID, msg.AuthorID, msg.Body, msg.Attachment, msg.TaskIDs, msg.ClientMsgID, msg.CreatedAt,
	)
	batch.Query(`UPDATE chats SET last_activity_at = ? WHERE chat_id = ?`, msg.CreatedAt, chatID)
	if msg.ClientMsgID != "" {
		batch.Query(
			`INSERT INTO message_client_keys (chat_id, author_id, client_msg_id, message_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			chatID, msg.AuthorID, msg.ClientMsgID, msg.ID, msg.CreatedAt,
		)
	}
	if err := r.session.ExecuteBatch(batch); err != nil {
		l.Error().Err(err).Str(log.FieldChatID, chatID).Msg("failed to append message")
		return nil, cqlError("append message", err, domain.ErrChatNotFound)
	}

	l.Debug().Str(log.FieldChatID, chatID).Str(log.FieldMessageID, msg.ID).Msg("message appended in cassandra")
	return &domain.AppendResult{Message: msg}, nil
}

func scanMessages(iter *gocql.Iter) ([]*domain.Message, error) {
	var messages []*domain.Message
	for {
		msg := &domain.Message{}
		if !iter.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.ObjectID,
			&msg.AuthorID,
			&msg.Body,
			&msg.Attachment,
			&msg.TaskIDs,
			&msg.ClientMsgID,
			&msg.CreatedAt,
		) {
			break
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		if len(msg.TaskIDs) == 0 {
			msg.TaskIDs = nil
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *CassandraChatRepository) getMessage(ctx context.Context, chatID string, createdAt time.Time, messageID string) (*domain.Message, error) {
	iter := r.session.Query(
		`SELECT `+messageColumns+` FROM messages_by_chat WHERE chat_id = ? AND created_at = ? AND message_id = ?`,
		chatID, createdAt, messageID,
	).WithContext(ctx).Iter()
	rows, err := scanMessages(iter)
	if err != nil {
		return nil, cqlError("get message", err, domain.ErrMessageNotFound)
	}
	if len(rows) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return rows[0], nil
}

func (r *CassandraChatRepository) ListMessages(ctx context.Context, chatID string, q domain.PageQuery) (*domain.MessagePage, error) {
	q = q.Normalize()

	// Query limit + 1 to determine if there are more results
	stmt := `SELECT ` + messageColumns + ` FROM messages_by_chat WHERE chat_id = ?`
	args := []interface{}{chatID}

	if c := q.Cursor; !c.IsZero() {
		if q.Direction == domain.Backward {
			stmt += ` AND (created_at, message_id) < (?, ?)`
		} else {
			stmt += ` AND (created_at, message_id) > (?, ?)`
		}
		args = append(args, c.CreatedAt, c.MessageID)
	}
	if q.Direction == domain.Backward {
		stmt += ` ORDER BY created_at DESC, message_id DESC`
	} else {
		stmt += ` ORDER BY created_at ASC, message_id ASC`
	}
	stmt += ` LIMIT ?`
	args = append(args, q.Limit+1)

	rows, err := scanMessages(r.session.Query(stmt, args...).WithContext(ctx).Iter())
	if err != nil {
		return nil, cqlError("list messages", err, domain.ErrChatNotFound)
	}

	if len(rows) == 0 {
		if _, err := r.GetChat(ctx, chatID); err != nil {
			return nil, err
		}
	}
	return domain.NewMessagePage(chatID, rows, q.Limit), nil
}

// ListChats scans the chat table and sorts in process; the chat list is
// small compared to message volume.
func (r *CassandraChatRepository) ListChats(ctx context.Context) ([]*domain.Chat, error) {
	iter := r.session.Query(`SELECT object_id, chat_id, created_at, last_activity_at FROM chats`).
		WithContext(ctx).Iter()

	var chats []*domain.Chat
	for {
		c := &domain.Chat{}
		if !iter.Scan(&c.ObjectID, &c.ID, &c.CreatedAt, &c.LastActivityAt) {
			break
		}
		normalizeChatTimes(c)
		chats = append(chats, c)
	}
	if err := iter.Close(); err != nil {
		return nil, cqlError("list chats", err, domain.ErrChatNotFound)
	}

	sortChats(chats)
	return chats, nil
}

func (r *CassandraChatRepository) readMarker(ctx context.Context, chatID, userID string) (*domain.ReadMarker, error) {
	m := &domain.ReadMarker{ChatID: chatID, UserID: userID}
	err := r.session.Query(
		`SELECT message_id, message_created_at, read_at FROM read_markers WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	).WithContext(ctx).Scan(&m.MessageID, &m.MessageCreatedAt, &m.ReadAt)
	if err != nil {
		return nil, cqlError("load read marker", err, domain.ErrNotFound)
	}
	m.MessageCreatedAt = m.MessageCreatedAt.UTC()
	m.ReadAt = m.ReadAt.UTC()
	return m, nil
}

func (r *CassandraChatRepository) MarkRead(ctx context.Context, chatID, userID, messageID string) (*domain.ReadMarker, error) {
	unlock := r.locks.Lock(markerKey(chatID, userID))
	defer unlock()

	// message_id alone is not a clustering prefix; filtering stays inside one partition.
	iter := r.session.Query(
		`SELECT `+messageColumns+` FROM messages_by_chat WHERE chat_id = ? AND message_id = ? ALLOW FILTERING`,
		chatID, messageID,
	).WithContext(ctx).Iter()
	rows, err := scanMessages(iter)
	if err != nil {
		return nil, cqlError("load read target", err, domain.ErrMessageNotFound)
	}
	if len(rows) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	target := rows[0]

	current, err := r.readMarker(ctx, chatID, userID)
	switch {
	case err == nil:
		if !current.Position().Less(target.Position()) {
			return current, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	marker := &domain.ReadMarker{
		ChatID:           chatID,
		UserID:           userID,
		MessageID:        target.ID,
		MessageCreatedAt: target.CreatedAt,
		ReadAt:           time.Now().UTC().Truncate(time.Millisecond),
	}
	err = r.session.Query(
		`INSERT INTO read_markers (chat_id, user_id, message_id, message_created_at, read_at) VALUES (?, ?, ?, ?, ?)`,
		marker.ChatID, marker.UserID, marker.MessageID, marker.MessageCreatedAt, marker.ReadAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, cqlError("save read marker", err, domain.ErrNotFound)
	}
	return marker, nil
}

func (r *CassandraChatRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	stmt := `SELECT author_id FROM messages_by_chat WHERE chat_id = ?`
	args := []interface{}{chatID}

	marker, err := r.readMarker(ctx, chatID, userID)
	switch {
	case err == nil:
		stmt += ` AND (created_at, message_id) > (?, ?)`
		args = append(args, marker.MessageCreatedAt, marker.MessageID)
	case !errors.Is(err, domain.ErrNotFound):
		return 0, err
	}

	iter := r.session.Query(stmt, args...).WithContext(ctx).Iter()
	count := 0
	var author string
	for iter.Scan(&author) {
		if author != userID {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, cqlError("count unread", err, domain.ErrNotFound)
	}
	return count, nil
}

func (r *CassandraChatRepository) Close() error {
	r.session.Close()
	return nil
}
