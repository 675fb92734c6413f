package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

const (
	sessionsKey = "chat:sessions"
	lastSyncKey = "chat:last_sync"
)

// redisStore persists the session blob in Redis. No TTL: the cache is a
// fallback store and must outlive idle periods.
type redisStore struct {
	client *redis.Client
}

func (s *redisStore) LoadSessions(ctx context.Context) ([]chat.SessionWithMessages, error) {
	val, err := s.client.Get(ctx, sessionsKey).Result()
	if err == redis.Nil {
		return []chat.SessionWithMessages{}, nil
	}
	if err != nil {
		return nil, err
	}

	var sessions []chat.SessionWithMessages
	if err := json.Unmarshal([]byte(val), &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions blob: %w", err)
	}

	return sessions, nil
}

func (s *redisStore) SaveSessions(ctx context.Context, sessions []chat.SessionWithMessages) error {
	if sessions == nil {
		sessions = []chat.SessionWithMessages{}
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	return s.client.Set(ctx, sessionsKey, data, 0).Err()
}

func (s *redisStore) LastSync(ctx context.Context) (time.Time, error) {
	val, err := s.client.Get(ctx, lastSyncKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time: %w", err)
	}

	return t, nil
}

func (s *redisStore) SetLastSync(ctx context.Context, t time.Time) error {
	return s.client.Set(ctx, lastSyncKey, t.UTC().Format(time.RFC3339), 0).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
