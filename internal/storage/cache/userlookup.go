// Package cache adds a Redis read-aside layer in front of the user store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedUserStore is a decorator that adds read-aside caching to any
// notify.UserStore. Resolved user records are cached under their record id;
// auth ids are cached as an alias pointing at the record key, so
// invalidating the record key invalidates both lookup paths.
type CachedUserStore struct {
	realStore notify.UserStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedUserStore(realStore notify.UserStore, cache CacheClient, ttl time.Duration) *CachedUserStore {
	return &CachedUserStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS (Read-Aside) ---

func (s *CachedUserStore) GetByRecordIDs(ctx context.Context, ids []string) ([]notify.User, error) {
	users := make([]notify.User, 0, len(ids))
	var misses []string
	for _, id := range ids {
		var u notify.User
		if err := s.cache.Get(ctx, s.recordKey(id), &u); err == nil {
			users = append(users, u)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return users, nil
	}

	fresh, err := s.realStore.GetByRecordIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, fresh)
	return append(users, fresh...), nil
}

func (s *CachedUserStore) GetByAuthIDs(ctx context.Context, ids []string) ([]notify.User, error) {
	users := make([]notify.User, 0, len(ids))
	var misses []string
	for _, id := range ids {
		var recordID string
		if err := s.cache.Get(ctx, s.authKey(id), &recordID); err == nil {
			var u notify.User
			if err := s.cache.Get(ctx, s.recordKey(recordID), &u); err == nil {
				users = append(users, u)
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return users, nil
	}

	fresh, err := s.realStore.GetByAuthIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, fresh)
	return append(users, fresh...), nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedUserStore) RegisterToken(ctx context.Context, recordID, project, token string) error {
	if err := s.realStore.RegisterToken(ctx, recordID, project, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recordID)
}

// RemoveTokens must clear the cache even though the store write succeeded:
// a dead token kept in cache would be re-dispatched until the TTL expires.
func (s *CachedUserStore) RemoveTokens(ctx context.Context, recordID, project string, tokens []string) error {
	if err := s.realStore.RemoveTokens(ctx, recordID, project, tokens); err != nil {
		return err
	}
	return s.invalidate(ctx, recordID)
}

// --- Helpers ---

// populate is fire-and-forget: caching is an optimization, not a
// transaction. If Redis is down we just serve from the store.
func (s *CachedUserStore) populate(ctx context.Context, users []notify.User) {
	for _, u := range users {
		_ = s.cache.Set(ctx, s.recordKey(u.ID), u, s.ttl)
		if u.AuthID != "" {
			_ = s.cache.Set(ctx, s.authKey(u.AuthID), u.ID, s.ttl)
		}
	}
}

func (s *CachedUserStore) invalidate(ctx context.Context, recordID string) error {
	return s.cache.Del(ctx, s.recordKey(recordID))
}

func (s *CachedUserStore) recordKey(id string) string {
	return fmt.Sprintf("notify:user:%s", id)
}

func (s *CachedUserStore) authKey(id string) string {
	return fmt.Sprintf("notify:auth:%s", id)
}
