package ai

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/liao/culture-bot/internal/chat"
)

var (
	// ErrEmptyResponse 模型返回了空内容
	ErrEmptyResponse = errors.New("empty model response")
	// ErrRateLimited 供应商限流或配额耗尽
	ErrRateLimited = errors.New("model rate limited")
)

// Request 一次对话补全请求
type Request struct {
	System   string
	Messages []chat.Message
}

// Prompt 把单条指令包装成一个 human 轮次。托管 API 要求至少一条用户消息
func Prompt(text string) Request {
	return Request{Messages: []chat.Message{chat.Human(text)}}
}

// ChatModel 对话模型，各供应商实现
type ChatModel interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Stream 逐段返回回复，出错时最后一次迭代携带错误
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Collect 把流式输出拼成完整回复
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for part, err := range seq {
		if err != nil {
			return "", err
		}
		b.WriteString(part)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// isQuotaError 429 / RESOURCE_EXHAUSTED 视为配额错误
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "rate_limit")
}

func errSeq(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
