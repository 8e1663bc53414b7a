package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"github.com/tinywideclouds/go-apns-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns an error (ErrMiss when absent).
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// entry is what gets cached. A nil Record caches "known valid" so repeated
// lookups of healthy tokens stay off the database too.
type entry struct {
	Record *apns.InvalidToken `json:"record,omitempty"`
}

// CachedInvalidTokenStore is a Decorator that adds read-aside caching to any
// InvalidTokenStore.
type CachedInvalidTokenStore struct {
	realStore dispatch.InvalidTokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedInvalidTokenStore(realStore dispatch.InvalidTokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedInvalidTokenStore {
	return &CachedInvalidTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "InvalidTokenCache"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedInvalidTokenStore) Lookup(ctx context.Context, token string) (*apns.InvalidToken, error) {
	key := cacheKey(token)

	var cached entry
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached.Record, nil
	}

	rec, err := s.realStore.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a failed Set still serves from the store.
	if err := s.cache.Set(ctx, key, entry{Record: rec}, s.ttl); err != nil {
		s.logger.Debug("Failed to populate cache", "err", err)
	}
	return rec, nil
}

// RecordedSince is a range query; it always goes to the underlying store.
func (s *CachedInvalidTokenStore) RecordedSince(ctx context.Context, since time.Time) ([]apns.InvalidToken, error) {
	return s.realStore.RecordedSince(ctx, since)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedInvalidTokenStore) MarkInvalid(ctx context.Context, t apns.InvalidToken) error {
	if err := s.realStore.MarkInvalid(ctx, t); err != nil {
		return err
	}
	return s.invalidate(ctx, t.Token)
}

// Clear must drop the cached entry too, or a re-registered device would keep
// reading as invalid until the TTL passes.
func (s *CachedInvalidTokenStore) Clear(ctx context.Context, token string) error {
	if err := s.realStore.Clear(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx, token)
}

func (s *CachedInvalidTokenStore) invalidate(ctx context.Context, token string) error {
	return s.cache.Del(ctx, cacheKey(token))
}

func cacheKey(token string) string {
	return "apns:invalid:" + token
}
