package repository

import (
	"context"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/pkg/cache"
	"KronosCast/pkg/logger"
)

// CachedFeedSource serves repeated feed queries from the cache. Cache failures
// never fail a fetch; the inner source is used instead.
type CachedFeedSource struct {
	inner domrepo.FeedSource
	cache cache.Service
	ttl   time.Duration
	l     *logger.Logger
}

func NewCachedFeedSource(inner domrepo.FeedSource, c cache.Service, ttl time.Duration, l *logger.Logger) *CachedFeedSource {
	if l == nil {
		l = logger.Nop()
	}
	return &CachedFeedSource{inner: inner, cache: c, ttl: ttl, l: l}
}

var _ domrepo.FeedSource = (*CachedFeedSource)(nil)

func feedKey(q domrepo.FeedQuery) string {
	return cache.GenerateKey("feed", q.Code, dayKey(q.From), dayKey(q.To))
}

func dayKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("20060102")
}

func (s *CachedFeedSource) Fetch(ctx context.Context, q domrepo.FeedQuery) (models.RawFeed, error) {
	key := feedKey(q)
	var cached models.RawFeed
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if err != cache.ErrCacheMiss {
		s.l.Warn("feed cache read failed", logger.String("key", key), logger.Error(err))
	}

	feed, err := s.inner.Fetch(ctx, q)
	if err != nil {
		return models.RawFeed{}, err
	}
	// Empty feeds are not cached so newly ingested bars show up on the next call.
	if !feed.Empty() {
		if err := s.cache.Set(ctx, key, feed, s.ttl); err != nil {
			s.l.Warn("feed cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return feed, nil
}

// Invalidate drops every cached window of a security.
func (s *CachedFeedSource) Invalidate(ctx context.Context, code string) error {
	return s.cache.DeleteByPattern(ctx, cache.GenerateKey("feed", code, "*"))
}

func (s *CachedFeedSource) Health(ctx context.Context) error {
	return s.inner.Health(ctx)
}
