package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liao/culture-bot/internal/parser"
	"github.com/liao/culture-bot/internal/rag"
)

const defaultBatchSize = 20

// indexer 分批写入向量库，每批完成后记录断点，中断后可以续传
type indexer struct {
	store     *rag.Store
	batchSize int
	// progress 断点文件路径，为空时不记录
	progress string
	pause    time.Duration
}

// run 返回本次写入的文档数
func (ix *indexer) run(ctx context.Context, docs []parser.Document) (int, error) {
	size := ix.batchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	start := ix.checkpoint()
	if start > len(docs) {
		slog.Warn("checkpoint is beyond the corpus, starting over", "checkpoint", start, "documents", len(docs))
		start = 0
	}
	if start > 0 {
		slog.Info("resuming from checkpoint", "start", start)
	}

	added := 0
	batch := make([]parser.Document, 0, size)
	for i := start; i < len(docs); i++ {
		batch = append(batch, docs[i])
		last := i == len(docs)-1
		if len(batch) < size && !last {
			continue
		}

		slog.Info("vectorizing", "progress", fmt.Sprintf("%d/%d", i+1, len(docs)))
		if err := ix.store.AddDocuments(ctx, batch); err != nil {
			return added, fmt.Errorf("add documents batch at %d: %w", i, err)
		}
		added += len(batch)
		batch = batch[:0]
		ix.save(i + 1)

		if ix.pause > 0 && !last {
			select {
			case <-ctx.Done():
				return added, ctx.Err()
			case <-time.After(ix.pause):
			}
		}
	}

	// 完成后删除断点文件
	if ix.progress != "" {
		if err := os.Remove(ix.progress); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("remove checkpoint failed", "error", err)
		}
	}
	return added, nil
}

func (ix *indexer) checkpoint() int {
	if ix.progress == "" {
		return 0
	}
	data, err := os.ReadFile(ix.progress)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		slog.Warn("ignoring corrupt checkpoint", "path", ix.progress)
		return 0
	}
	return n
}

func (ix *indexer) save(next int) {
	if ix.progress == "" {
		return
	}
	if err := os.WriteFile(ix.progress, []byte(strconv.Itoa(next)), 0644); err != nil {
		slog.Warn("save checkpoint failed", "error", err)
	}
}
