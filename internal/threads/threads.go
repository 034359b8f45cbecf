// Package threads remembers the conversation thread id used for each case so
// reruns reach agents with the same id.
package threads

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultTTL is how long a thread id is remembered.
const DefaultTTL = 30 * 24 * time.Hour

// Store persists thread ids by case id.
type Store interface {
	// Get returns the thread id for caseID and whether one was stored.
	Get(ctx context.Context, caseID string) (int, bool, error)
	Set(ctx context.Context, caseID string, id int) error
}

// RedisStore keeps thread ids under thread:<case_id> keys.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(caseID string) string {
	return fmt.Sprintf("thread:%s", caseID)
}

func (s *RedisStore) Get(ctx context.Context, caseID string) (int, bool, error) {
	v, err := s.client.Get(ctx, s.key(caseID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "threads: get %s", caseID)
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, eris.Wrapf(err, "threads: parse %s", caseID)
	}
	return id, true, nil
}

func (s *RedisStore) Set(ctx context.Context, caseID string, id int) error {
	err := s.client.Set(ctx, s.key(caseID), id, s.ttl).Err()
	return eris.Wrapf(err, "threads: set %s", caseID)
}

// MemoryStore keeps thread ids in process memory. Entries do not expire.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: map[string]int{}}
}

func (s *MemoryStore) Get(_ context.Context, caseID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[caseID]
	return id, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, caseID string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[caseID] = id
	return nil
}
