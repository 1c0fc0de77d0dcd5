package rag

import (
	"context"
	"log/slog"

	"github.com/liao/culture-bot/internal/parser"
)

// Retriever 自查询检索：先分析问题得到过滤条件，再做向量检索
type Retriever struct {
	store         *Store
	analyzer      *QueryAnalyzer
	topK          int
	minSimilarity float32
}

// NewRetriever analyzer 为 nil 时直接用原问题检索
func NewRetriever(store *Store, analyzer *QueryAnalyzer, topK int, minSimilarity float32) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{store: store, analyzer: analyzer, topK: topK, minSimilarity: minSimilarity}
}

// Retrieve 返回相关文档，最相关的在前。向量库错误原样返回
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]parser.Document, error) {
	sq := StructuredQuery{Query: query, Limit: r.topK}
	if r.analyzer != nil {
		analyzed, err := r.analyzer.Analyze(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("query analysis failed, searching raw query", "error", err)
		} else {
			sq = analyzed
		}
	}

	results, err := r.store.Query(ctx, sq.Query, sq.Limit, sq.Filter)
	if err != nil {
		return nil, err
	}

	docs := make([]parser.Document, 0, len(results))
	for _, res := range results {
		if res.Similarity < r.minSimilarity {
			continue
		}
		docs = append(docs, res.Document)
	}
	slog.Debug("retrieved documents", "query", sq.Query, "filter", sq.Filter, "limit", sq.Limit, "count", len(docs))
	return docs, nil
}
