package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/parser"
)

const relevancePrompt = `Given the following question and context, return YES if the context is relevant to the question and NO if it isn't.

> Question: %s
> Context:
>>>
%s
>>>
> Relevant (YES / NO):`

var yesNoRe = regexp.MustCompile(`\b(YES|NO)\b`)

// ErrAmbiguousAnswer 分类结果既不是 YES 也不是 NO
var ErrAmbiguousAnswer = errors.New("ambiguous relevance answer")

// FilterResult 过滤结果。Degraded 为 true 时 Docs 恰好是一篇占位文档
type FilterResult struct {
	Docs     []parser.Document
	Degraded bool
	Reason   string
}

// RelevanceFilter 逐篇询问模型文档是否与问题相关
type RelevanceFilter struct {
	model       ai.ChatModel
	placeholder string
}

func NewRelevanceFilter(model ai.ChatModel, placeholder string) *RelevanceFilter {
	return &RelevanceFilter{model: model, placeholder: placeholder}
}

// Placeholder 没有可用文档时放入上下文的占位文档
func (f *RelevanceFilter) Placeholder() parser.Document {
	return parser.Document{Content: f.placeholder, Metadata: map[string]string{}}
}

// Degrade 返回只含占位文档的降级结果
func (f *RelevanceFilter) Degrade(reason string) FilterResult {
	return FilterResult{Docs: []parser.Document{f.Placeholder()}, Degraded: true, Reason: reason}
}

// Filter 保留模型判定为相关的文档，顺序不变。任何失败都降级为占位文档，不返回错误
func (f *RelevanceFilter) Filter(ctx context.Context, query string, docs []parser.Document) FilterResult {
	if len(docs) == 0 {
		return f.Degrade("no candidate documents")
	}

	kept := make([]parser.Document, 0, len(docs))
	for _, d := range docs {
		ok, err := f.relevant(ctx, query, d)
		if err != nil {
			slog.Warn("relevance filter failed", "doc", d.ID, "error", err)
			return f.Degrade(err.Error())
		}
		if ok {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return f.Degrade("no relevant documents")
	}
	slog.Debug("relevance filter done", "candidates", len(docs), "kept", len(kept))
	return FilterResult{Docs: kept}
}

func (f *RelevanceFilter) relevant(ctx context.Context, query string, d parser.Document) (bool, error) {
	out, err := f.model.Generate(ctx, ai.Prompt(fmt.Sprintf(relevancePrompt, query, d.Content)))
	if err != nil {
		return false, fmt.Errorf("classify document: %w", err)
	}
	return ParseYesNo(out)
}

// ParseYesNo 解析 YES / NO，两者都出现或都没出现时报错
func ParseYesNo(s string) (bool, error) {
	matches := yesNoRe.FindAllString(strings.ToUpper(s), -1)
	var yes, no bool
	for _, m := range matches {
		switch m {
		case "YES":
			yes = true
		case "NO":
			no = true
		}
	}
	if yes == no {
		return false, fmt.Errorf("%w: %q", ErrAmbiguousAnswer, s)
	}
	return yes, nil
}

// JoinDocuments 文档内容以空行拼接
func JoinDocuments(docs []parser.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}
