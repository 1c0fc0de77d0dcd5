package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/liao/culture-bot/internal/parser"
)

const DefaultCollection = "culture"

type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewStore 创建或加载持久化向量存储
func NewStore(vectorsDir, collection string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(vectorsDir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	s, err := newStore(db, collection, embedFunc)
	if err != nil {
		return nil, err
	}
	slog.Info("vector store loaded", "dir", vectorsDir, "collection", collection, "count", s.Count())
	return s, nil
}

// NewMemoryStore 不落盘的向量存储
func NewMemoryStore(collection string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	return newStore(chromem.NewDB(), collection, embedFunc)
}

func newStore(db *chromem.DB, collection string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	col, err := db.GetOrCreateCollection(collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}
	return &Store{db: db, collection: col}, nil
}

type Result struct {
	Document   parser.Document
	Similarity float32
}

// Query 检索最相似的 k 篇文档，where 为元数据精确匹配条件
func (s *Store) Query(ctx context.Context, text string, k int, where map[string]string) ([]Result, error) {
	if k <= 0 {
		return nil, errors.New("query: k must be positive")
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if len(where) == 0 {
		where = nil
	}

	docs, err := s.collection.Query(ctx, text, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, Result{
			Document: parser.Document{
				ID:       d.ID,
				Content:  d.Content,
				Metadata: d.Metadata,
			},
			Similarity: d.Similarity,
		})
	}
	return results, nil
}

// AddDocuments 批量写入文档，同 ID 覆盖
func (s *Store) AddDocuments(ctx context.Context, docs []parser.Document) error {
	if len(docs) == 0 {
		return nil
	}
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		cdocs = append(cdocs, chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}
	return s.collection.AddDocuments(ctx, cdocs, runtime.NumCPU())
}

// Count 返回文档数量
func (s *Store) Count() int {
	return s.collection.Count()
}
