package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liao/culture-bot/internal/parser"
)

// ErrRetrieval 向量库不可用或检索出错
var ErrRetrieval = errors.New("retrieval failed")

// DocumentRetriever 根据问题返回候选文档
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string) ([]parser.Document, error)
}

type PipelineOptions struct {
	// Translator 为 nil 时不翻译
	Translator      *Translator
	RetrieveTimeout time.Duration
	FilterTimeout   time.Duration
}

// Pipeline 问题 -> [翻译] -> 检索 -> 相关性过滤 -> 文档上下文
type Pipeline struct {
	retriever       DocumentRetriever
	filter          *RelevanceFilter
	translator      *Translator
	retrieveTimeout time.Duration
	filterTimeout   time.Duration
}

func NewPipeline(retriever DocumentRetriever, filter *RelevanceFilter, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		retriever:       retriever,
		filter:          filter,
		translator:      opts.Translator,
		retrieveTimeout: opts.RetrieveTimeout,
		filterTimeout:   opts.FilterTimeout,
	}
}

// Context 是一次检索得到的文档上下文
type Context struct {
	FilterResult
	// Query 实际用于检索的问题（可能已翻译）
	Query string
	// Err 降级原因，检索失败时 errors.Is(Err, ErrRetrieval)
	Err error
}

// Text 拼接后的文档文本
func (c Context) Text() string {
	return JoinDocuments(c.Docs)
}

// Build 永远返回可用的上下文：任何一步失败都降级为占位文档
func (p *Pipeline) Build(ctx context.Context, question string) Context {
	query := question
	if p.translator != nil {
		translated, err := p.translator.Translate(ctx, question)
		if err != nil {
			// 翻译失败不影响检索，用原文
			slog.Warn("query translation failed, using original", "error", err)
		} else {
			query = translated
		}
	}

	docs, err := p.retrieve(ctx, query)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRetrieval, err)
		slog.Warn("retrieval failed, degrading", "error", err)
		return Context{FilterResult: p.filter.Degrade(err.Error()), Query: query, Err: err}
	}

	fctx, cancel := withTimeout(ctx, p.filterTimeout)
	defer cancel()
	res := p.filter.Filter(fctx, query, docs)
	out := Context{FilterResult: res, Query: query}
	if res.Degraded {
		out.Err = errors.New(res.Reason)
	}
	return out
}

func (p *Pipeline) retrieve(ctx context.Context, query string) ([]parser.Document, error) {
	rctx, cancel := withTimeout(ctx, p.retrieveTimeout)
	defer cancel()
	return p.retriever.Retrieve(rctx, query)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
