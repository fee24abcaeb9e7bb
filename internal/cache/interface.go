package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/site-journal/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache stores immutable history pages keyed by chat and query.
type HistoryCache interface {
	Get(ctx context.Context, key string) (*domain.MessagePage, error)
	Set(ctx context.Context, key string, page *domain.MessagePage, ttl time.Duration) error
	BuildKey(chatID string, q domain.PageQuery) string
	Close() error
}

// NopHistoryCache always misses. Used when caching is disabled.
type NopHistoryCache struct{}

func (NopHistoryCache) Get(context.Context, string) (*domain.MessagePage, error) {
	return nil, ErrCacheMiss
}

func (NopHistoryCache) Set(context.Context, string, *domain.MessagePage, time.Duration) error {
	return nil
}

func (NopHistoryCache) BuildKey(string, domain.PageQuery) string { return "" }

func (NopHistoryCache) Close() error { return nil }
