package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liao/culture-bot/internal/chat"
)

type sessionFile struct {
	Messages   []chat.Message `json:"messages"`
	LastActive time.Time      `json:"last_active"`
}

// FileStore 每个会话一个 JSON 文件
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) string {
	// session id 可能含有 ":" 等字符，转义后作为文件名
	return filepath.Join(s.dir, url.PathEscape(sessionID)+".json")
}

func (s *FileStore) Load(_ context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	return sequence(sf.Messages), nil
}

func (s *FileStore) Append(_ context.Context, sessionID string, msgs ...chat.Message) error {
	if err := validate(sessionID, msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read(sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	sf.Messages = append(sf.Messages, stamp(msgs, now)...)
	sf.LastActive = now.UTC()
	return s.write(sessionID, sf)
}

func (s *FileStore) read(sessionID string) (*sessionFile, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return &sessionFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sf, nil
}

// write 先写临时文件再 rename，保证一轮对话整体落盘
func (s *FileStore) write(sessionID string, sf *sessionFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return os.Rename(tmp.Name(), s.path(sessionID))
}
