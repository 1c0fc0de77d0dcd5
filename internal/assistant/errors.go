package assistant

import (
	"errors"

	"github.com/liao/culture-bot/internal/rag"
)

var (
	// ErrInvalidRequest 问题或会话 id 为空
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHistoryUnavailable 会话历史读写失败，请求在调用模型前中止
	ErrHistoryUnavailable = errors.New("history unavailable")
	// ErrRetrieval 检索失败。Respond 不会返回它，检索失败会降级为无文档上下文
	ErrRetrieval = rag.ErrRetrieval
	// ErrGeneration 模型调用失败或返回空内容，会话历史不变
	ErrGeneration = errors.New("generation failed")
)
