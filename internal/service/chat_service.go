package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/site-journal/internal/audit"
	"github.com/weiawesome/site-journal/internal/cache"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/internal/keylock"
	"github.com/weiawesome/site-journal/internal/metrics"
	"github.com/weiawesome/site-journal/internal/repository"
	"github.com/weiawesome/site-journal/internal/transport"
	"github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/pubsub"
)

const (
	defaultSnapshotSize        = 50
	defaultOverviewConcurrency = 8
	defaultCacheTTL            = 5 * time.Minute
	deliveryTimeout            = 5 * time.Second
	sharedFetchTimeout         = 10 * time.Second
)

// Config tunes the use-case layer. Zero values fall back to defaults.
type Config struct {
	MaxBodyLength       int
	SnapshotSize        int
	OverviewConcurrency int
	CacheTTL            time.Duration
}

type chatService struct {
	repo      repository.ChatRepository
	cache     cache.HistoryCache
	port      transport.Port
	publisher pubsub.Publisher
	config    Config
	objects   *keylock.Locker
	sf        singleflight.Group
}

// NewChatService builds the use-case layer. historyCache, port and publisher
// may be nil: no caching, no live broadcast, no event stream.
func NewChatService(
	repo repository.ChatRepository,
	historyCache cache.HistoryCache,
	port transport.Port,
	publisher pubsub.Publisher,
	cfg Config,
) ChatService {
	if historyCache == nil {
		historyCache = cache.NopHistoryCache{}
	}
	if publisher == nil {
		publisher = pubsub.NopPublisher{}
	}
	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = defaultSnapshotSize
	}
	if cfg.SnapshotSize > domain.MaxPageLimit {
		cfg.SnapshotSize = domain.MaxPageLimit
	}
	if cfg.OverviewConcurrency <= 0 {
		cfg.OverviewConcurrency = defaultOverviewConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	return &chatService{
		repo:      repo,
		cache:     historyCache,
		port:      port,
		publisher: publisher,
		config:    cfg,
		objects:   keylock.New(),
	}
}

func normalizeObjectID(objectID string) (string, error) {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return "", domain.Validationf("object id is required")
	}
	return objectID, nil
}

func (s *chatService) SendMessage(ctx context.Context, objectID string, draft domain.MessageDraft, source string) (*SendResult, error) {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return nil, err
	}
	draft.Normalize()
	if err := draft.Validate(s.config.MaxBodyLength); err != nil {
		return nil, err
	}

	chat, err := s.repo.CreateChat(ctx, objectID)
	if err != nil {
		return nil, err
	}

	l := log.Ctx(ctx).With().
		Str(log.FieldObjectID, objectID).
		Str(log.FieldChatID, chat.ID).
		Str(log.FieldUserID, draft.AuthorID).
		Logger()
	l.Debug().Str("status", "pending").Msg("message accepted")

	unlock := s.objects.Lock(objectID)
	defer unlock()

	result, err := s.repo.AppendMessage(ctx, chat.ID, &draft)
	if err != nil {
		return nil, err
	}
	msg := result.Message
	l = l.With().Str(log.FieldMessageID, msg.ID).Logger()

	if result.Duplicate {
		metrics.DuplicateSends.Inc()
		l.Info().Str("client_message_id", draft.ClientMsgID).Msg("duplicate send answered with stored message")
		return &SendResult{Message: msg, Duplicate: true}, nil
	}

	metrics.MessagesSent.WithLabelValues(source).Inc()
	l.Debug().Str("status", "persisted").Msg("message stored")
	audit.Log(ctx, audit.ActionSendMessage, draft.AuthorID, objectID, "message sent")

	// The message is durable now; delivery must not depend on the caller
	// still waiting.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	s.broadcast(dctx, l, objectID, domain.NewMessageCreated(msg))
	s.publish(dctx, l, objectID, pubsub.EventMessageCreated, msg)

	return &SendResult{Message: msg}, nil
}

func (s *chatService) broadcast(ctx context.Context, l zerolog.Logger, objectID string, event interface{}) {
	if s.port == nil {
		return
	}
	n, err := s.port.Broadcast(ctx, objectID, event)
	if err != nil {
		metrics.BroadcastFailures.Inc()
		l.Warn().Err(err).Msg("broadcast failed")
		return
	}
	metrics.Broadcasts.Inc()
	l.Debug().Str("status", "broadcast").Int("recipients", n).Msg("message broadcast")
}

func (s *chatService) publish(ctx context.Context, l zerolog.Logger, objectID, eventType string, payload interface{}) {
	event, err := pubsub.NewEvent(eventType, objectID, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, pubsub.ChatEventsChannel(objectID), event)
	}
	if err != nil {
		metrics.EventPublishFailures.Inc()
		l.Warn().Err(err).Str(log.FieldEvent, eventType).Msg("failed to publish chat event")
	}
}

func (s *chatService) GetHistory(ctx context.Context, objectID string, q domain.PageQuery) (*domain.MessagePage, error) {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return nil, err
	}
	q = q.Normalize()

	chat, err := s.repo.GetChatByObjectID(ctx, objectID)
	if err != nil {
		return nil, err
	}

	// The newest page changes with every send; never cache it.
	if q.Direction == domain.Backward && q.Cursor.IsZero() {
		return s.repo.ListMessages(ctx, chat.ID, q)
	}

	cacheKey := s.cache.BuildKey(chat.ID, q)
	if cacheKey == "" {
		return s.repo.ListMessages(ctx, chat.ID, q)
	}

	// The fetch is shared by every caller collapsed onto cacheKey, so it
	// must not die with whichever request started it.
	ch := s.sf.DoChan(cacheKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return s.fetchWithCache(fctx, chat.ID, q, cacheKey)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		page, ok := res.Val.(*domain.MessagePage)
		if !ok {
			return nil, fmt.Errorf("unexpected result type from singleflight")
		}
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chatService) fetchWithCache(ctx context.Context, chatID string, q domain.PageQuery, cacheKey string) (*domain.MessagePage, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		metrics.HistoryCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}

	if errors.Is(err, cache.ErrCacheMiss) {
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
	} else {
		// Log error but continue to fetch from the store
		metrics.HistoryCacheLookups.WithLabelValues("error").Inc()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("cache get error")
	}

	page, err := s.repo.ListMessages(ctx, chatID, q)
	if err != nil {
		return nil, err
	}

	if q.Cacheable(page) {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cache.Set(cacheCtx, cacheKey, page, s.config.CacheTTL); err != nil {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("cache set error")
			}
		}()
	}

	return page, nil
}

func (s *chatService) Snapshot(ctx context.Context, objectID, viewerID string, n int) (*Snapshot, error) {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, objectID, viewerID, n)
}

func (s *chatService) snapshot(ctx context.Context, objectID, viewerID string, n int) (*Snapshot, error) {
	if n <= 0 || n > domain.MaxPageLimit {
		n = s.config.SnapshotSize
	}

	snap := &Snapshot{ObjectID: objectID, Messages: []*domain.Message{}}

	chat, err := s.repo.GetChatByObjectID(ctx, objectID)
	if errors.Is(err, domain.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	snap.ChatID = chat.ID

	snap.Messages, err = repository.Latest(ctx, s.repo, chat.ID, n)
	if err != nil {
		return nil, err
	}

	if viewerID != "" {
		snap.UnreadCount, err = s.repo.CountUnread(ctx, chat.ID, viewerID)
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *chatService) Catchup(ctx context.Context, objectID, viewerID string, join func() error, deliver func(*Snapshot) error) error {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return err
	}

	unlock := s.objects.Lock(objectID)
	defer unlock()

	if err := join(); err != nil {
		return err
	}
	snap, err := s.snapshot(ctx, objectID, viewerID, 0)
	if err != nil {
		return err
	}
	return deliver(snap)
}

func (s *chatService) ListChatsOverview(ctx context.Context, viewerID string) ([]*domain.ChatOverview, error) {
	chats, err := s.repo.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	overviews := make([]*domain.ChatOverview, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.OverviewConcurrency)

	for i, chat := range chats {
		g.Go(func() error {
			last, err := repository.LastMessage(gctx, s.repo, chat.ID)
			if err != nil {
				return err
			}
			overview := &domain.ChatOverview{Chat: *chat, LastMessage: last}
			if viewerID != "" {
				overview.UnreadCount, err = s.repo.CountUnread(gctx, chat.ID, viewerID)
				if err != nil {
					return err
				}
			}
			overviews[i] = overview
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overviews, nil
}

func (s *chatService) MarkRead(ctx context.Context, objectID, userID, messageID string) (*domain.ReadMarker, error) {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	messageID = strings.TrimSpace(messageID)
	if userID == "" {
		return nil, domain.Validationf("author is required")
	}
	if messageID == "" {
		return nil, domain.Validationf("message_id is required")
	}

	chat, err := s.repo.GetChatByObjectID(ctx, objectID)
	if err != nil {
		return nil, err
	}

	marker, err := s.repo.MarkRead(ctx, chat.ID, userID, messageID)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionMarkRead, userID, objectID, "chat marked read")

	l := log.Ctx(ctx).With().Str(log.FieldObjectID, objectID).Str(log.FieldChatID, chat.ID).Logger()
	s.publish(context.WithoutCancel(ctx), l, objectID, pubsub.EventChatRead, marker)

	return marker, nil
}

func (s *chatService) GetChat(ctx context.Context, objectID string) (*domain.Chat, error) {
	objectID, err := normalizeObjectID(objectID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetChatByObjectID(ctx, objectID)
}
