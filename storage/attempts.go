package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutWindow is how long failed attempts count against a subject
// before the slate is wiped.
const LockoutWindow = 15 * time.Minute

// AttemptStore persists failed-attempt counts per subject so the capture
// lockout survives agent restarts. Should be safe to use concurrently.
type AttemptStore interface {
	// Increment records one failed attempt for the subject and returns
	// the new count. The count expires after LockoutWindow.
	Increment(ctx context.Context, subject string) (int, error)

	// Count returns the current failed-attempt count; an absent or
	// expired subject counts as zero.
	Count(ctx context.Context, subject string) (int, error)

	// Clear removes the subject's count. Clearing an absent subject is
	// not an error.
	Clear(ctx context.Context, subject string) error
}

// ------------------------------------------------------------------------------

type memEntry struct {
	count   int
	expires time.Time
}

type InMemoryAttemptStore struct {
	mutex   sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (s *InMemoryAttemptStore) Increment(_ context.Context, subject string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := s.entries[subject]
	if !entry.expires.IsZero() && s.now().After(entry.expires) {
		entry = memEntry{}
	}
	entry.count++
	entry.expires = s.now().Add(LockoutWindow)
	s.entries[subject] = entry
	return entry.count, nil
}

func (s *InMemoryAttemptStore) Count(_ context.Context, subject string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.entries[subject]
	if !ok || s.now().After(entry.expires) {
		return 0, nil
	}
	return entry.count, nil
}

func (s *InMemoryAttemptStore) Clear(_ context.Context, subject string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, subject)
	return nil
}

// ------------------------------------------------------------------------------

type RedisAttemptStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisAttemptStore(client *redis.Client, namespace string) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, namespace: namespace}
}

func createKey(namespace, subject string) string {
	return fmt.Sprintf("%s:attempts:%s", namespace, subject)
}

func (s *RedisAttemptStore) Increment(ctx context.Context, subject string) (int, error) {
	key := createKey(s.namespace, subject)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, LockoutWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisAttemptStore) Count(ctx context.Context, subject string) (int, error) {
	count, err := s.client.Get(ctx, createKey(s.namespace, subject)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *RedisAttemptStore) Clear(ctx context.Context, subject string) error {
	return s.client.Del(ctx, createKey(s.namespace, subject)).Err()
}
