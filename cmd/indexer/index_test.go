package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/culture-bot/internal/parser"
	"github.com/liao/culture-bot/internal/rag"
)

func corpus(n int) []parser.Document {
	docs := make([]parser.Document, n)
	for i := range docs {
		docs[i] = parser.Document{
			ID:       fmt.Sprintf("doc_%05d", i),
			Content:  fmt.Sprintf("đoạn %d của sổ tay văn hóa", i),
			Metadata: map[string]string{"source": "handbook"},
		}
	}
	return docs
}

// flakyEmbed 对包含 failOn 的文本返回错误
func flakyEmbed(failOn *atomic.Value) func(context.Context, string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		if s, _ := failOn.Load().(string); s != "" && strings.Contains(text, s) {
			return nil, errors.New("embedding quota exceeded")
		}
		return []float32{0.6, 0.8}, nil
	}
}

func TestIndexerResumesFromCheckpoint(t *testing.T) {
	var failOn atomic.Value
	failOn.Store("đoạn 7 ")

	store, err := rag.NewMemoryStore("culture", flakyEmbed(&failOn))
	require.NoError(t, err)

	progress := filepath.Join(t.TempDir(), ".progress-culture")
	ix := &indexer{store: store, batchSize: 3, progress: progress}
	docs := corpus(10)

	added, err := ix.run(context.Background(), docs)
	require.Error(t, err)
	assert.Equal(t, 6, added)

	data, err := os.ReadFile(progress)
	require.NoError(t, err)
	assert.Equal(t, "6", string(data))

	failOn.Store("")
	added, err = ix.run(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 4, added)
	assert.Equal(t, 10, store.Count())

	_, err = os.Stat(progress)
	assert.True(t, os.IsNotExist(err), "checkpoint removed after a full run")
}

func TestIndexerIgnoresStaleCheckpoint(t *testing.T) {
	var failOn atomic.Value
	store, err := rag.NewMemoryStore("culture", flakyEmbed(&failOn))
	require.NoError(t, err)

	progress := filepath.Join(t.TempDir(), ".progress-culture")
	require.NoError(t, os.WriteFile(progress, []byte("99"), 0o644))

	ix := &indexer{store: store, progress: progress}
	added, err := ix.run(context.Background(), corpus(5))
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.Equal(t, 5, store.Count())
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "corpus.yaml")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handbook.txt"), []byte("# Nghỉ phép\nNhân viên có 12 ngày phép năm.\n"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte(`
documents:
  - id: mission
    content: Sứ mệnh của BBAS là tạo ra bao bì chất lượng.
    metadata:
      topic: sứ mệnh
sources:
  - path: handbook.txt
`), 0o644))

	docs, err := loadCorpus(manifest, "auto", parser.LoadOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "mission", docs[0].ID)
	assert.Equal(t, "Nghỉ phép", docs[1].Metadata["topic"])

	docs, err = loadCorpus(filepath.Join(dir, "handbook.txt"), "", parser.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
