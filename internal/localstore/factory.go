package localstore

import (
	"context"
	"sync"
	"time"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

// StoreType selects the local cache driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// New creates a Store for the given driver type. The file driver requires
// WithPath; the redis driver requires WithRedisClient.
func New(storeType StoreType, opts ...Option) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryStore{}, nil

	case StoreTypeFile:
		if config.path == "" {
			return nil, ErrInvalidConfig
		}
		return &fileStore{path: config.path}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{client: config.redisClient}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

// memoryStore keeps everything in process memory. Used by tests and as a
// throwaway cache when no durable path is configured.
type memoryStore struct {
	mu       sync.RWMutex
	sessions []chat.SessionWithMessages
	lastSync time.Time
}

func (s *memoryStore) LoadSessions(_ context.Context) ([]chat.SessionWithMessages, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.SessionWithMessages, len(s.sessions))
	copy(copied, s.sessions)
	return copied, nil
}

func (s *memoryStore) SaveSessions(_ context.Context, sessions []chat.SessionWithMessages) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make([]chat.SessionWithMessages, len(sessions))
	copy(s.sessions, sessions)
	return nil
}

func (s *memoryStore) LastSync(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, nil
}

func (s *memoryStore) SetLastSync(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}
