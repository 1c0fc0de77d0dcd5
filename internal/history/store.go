// Package history 持久化每个会话的消息记录
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/liao/culture-bot/internal/chat"
)

var ErrSessionIDRequired = errors.New("session id is required")

// Store 按会话 id 保存只追加的消息序列
type Store interface {
	// Load 返回会话的全部消息，不存在的会话返回空序列
	Load(ctx context.Context, sessionID string) ([]chat.Message, error)
	// Append 原子地追加一批消息：要么全部写入，要么都不写入
	Append(ctx context.Context, sessionID string, msgs ...chat.Message) error
}

// stamp 补全 id 和时间戳，不修改调用方的切片
func stamp(msgs []chat.Message, now time.Time) []chat.Message {
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Timestamp = m.Timestamp.UTC()
		out[i] = m
	}
	return out
}

// sequence 按位置填充 Seq
func sequence(msgs []chat.Message) []chat.Message {
	for i := range msgs {
		msgs[i].Seq = i
	}
	return msgs
}

func validate(sessionID string, msgs []chat.Message) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return errors.New("invalid message role: " + string(m.Role))
		}
	}
	return nil
}
