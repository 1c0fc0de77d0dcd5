package history

import (
	"context"
	"sync"
	"time"

	"github.com/liao/culture-bot/internal/chat"
)

// MemoryStore 进程内存储，用于测试和本地调试
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]chat.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]chat.Message)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	return sequence(append([]chat.Message(nil), msgs...)), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...chat.Message) error {
	if err := validate(sessionID, msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], stamp(msgs, time.Now())...)
	return nil
}
