package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/config"
	"github.com/liao/culture-bot/internal/history"
	"github.com/liao/culture-bot/internal/lock"
)

func TestNewChatModel(t *testing.T) {
	ctx := context.Background()

	m, err := newChatModel(ctx, config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini-2024-07-18", OpenAIAPIKey: "sk", RPMLimit: 60})
	require.NoError(t, err)
	assert.IsType(t, &ai.Limited{}, m)

	m, err = newChatModel(ctx, config.LLMConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest", AnthropicAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &ai.AnthropicClient{}, m)

	m, err = newChatModel(ctx, config.LLMConfig{Provider: "gemini", Models: []string{"gemini-2.0-flash"}, GeminiAPIKey: "g"})
	require.NoError(t, err)
	assert.IsType(t, &ai.GeminiClient{}, m)

	_, err = newChatModel(ctx, config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = newChatModel(ctx, config.LLMConfig{Provider: "llama"})
	assert.ErrorContains(t, err, "llama")
}

func TestNewQueryAnalyzer(t *testing.T) {
	cfg := &config.Config{RAG: config.RAGConfig{TopK: 4, MaxLimit: 10}}
	a, err := newQueryAnalyzer(&ai.Limited{}, cfg)
	require.NoError(t, err)
	assert.Nil(t, a, "self-query disabled")

	manifest := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
content_description: Sổ tay văn hóa BBAS
attributes:
  - name: topic
    description: Chủ đề của đoạn tài liệu
documents:
  - content: Sứ mệnh của BBAS
`), 0o644))
	cfg.RAG.SelfQuery = true
	cfg.Data.ManifestFile = manifest
	a, err = newQueryAnalyzer(&ai.Limited{}, cfg)
	require.NoError(t, err)
	assert.NotNil(t, a)

	// 清单读取失败时仍然启用自查询，只是没有过滤字段
	cfg.Data.ManifestFile = filepath.Join(t.TempDir(), "missing.yaml")
	a, err = newQueryAnalyzer(&ai.Limited{}, cfg)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestNewHistoryStoreAndLocker(t *testing.T) {
	ctx := context.Background()
	a := &app{}

	s, err := a.newHistoryStore(ctx, config.HistoryConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &history.MemoryStore{}, s)

	s, err = a.newHistoryStore(ctx, config.HistoryConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &history.FileStore{}, s)

	_, err = a.newHistoryStore(ctx, config.HistoryConfig{Backend: "sqlite"})
	assert.Error(t, err)

	l, err := a.newLocker(ctx, config.LockConfig{Backend: "local"})
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, l)

	_, err = a.newLocker(ctx, config.LockConfig{Backend: "etcd"})
	assert.Error(t, err)
	assert.Empty(t, a.closers)
}
