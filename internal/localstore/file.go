package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

// fileStore persists the session list as one JSON file plus a sibling file
// holding the last sync time as an RFC3339 string. Writers within a process
// are serialized by the mutex; concurrent processes clobber each other, last
// write wins.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func (s *fileStore) syncPath() string {
	return s.path + ".last_sync"
}

func (s *fileStore) LoadSessions(_ context.Context) ([]chat.SessionWithMessages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []chat.SessionWithMessages{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}

	var sessions []chat.SessionWithMessages
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions file: %w", err)
	}

	return sessions, nil
}

func (s *fileStore) SaveSessions(_ context.Context, sessions []chat.SessionWithMessages) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessions == nil {
		sessions = []chat.SessionWithMessages{}
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

func (s *fileStore) LastSync(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.syncPath())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time: %w", err)
	}

	return t, nil
}

func (s *fileStore) SetLastSync(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(s.syncPath(), []byte(t.UTC().Format(time.RFC3339)), 0o644)
}

func (s *fileStore) Close() error {
	return nil
}
