// Package assistant 把检索、历史、裁剪、提示和模型调用串成一次问答
package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/chat"
	"github.com/liao/culture-bot/internal/history"
	"github.com/liao/culture-bot/internal/lock"
	"github.com/liao/culture-bot/internal/persona"
	"github.com/liao/culture-bot/internal/rag"
)

const tracerName = "github.com/liao/culture-bot/internal/assistant"

// ContextBuilder 根据问题得到文档上下文，永不失败
type ContextBuilder interface {
	Build(ctx context.Context, question string) rag.Context
}

type Options struct {
	Persona *persona.Persona
	Trimmer *chat.Trimmer
	// Locker 串行化同一会话的请求，默认进程内锁
	Locker lock.Locker

	HistoryTimeout  time.Duration
	GenerateTimeout time.Duration
	// HistoryRetries 读取历史失败时的最大重试次数
	HistoryRetries uint64

	// ShortCircuit 为 true 时，没有可用文档直接回复固定答案，不调用模型
	ShortCircuit bool

	Tracer trace.Tracer
}

type Assistant struct {
	model   ai.ChatModel
	docs    ContextBuilder
	store   history.Store
	persona *persona.Persona
	trimmer *chat.Trimmer
	locker  lock.Locker
	tracer  trace.Tracer

	historyTimeout  time.Duration
	generateTimeout time.Duration
	historyRetries  uint64
	shortCircuit    bool
	backOff         func() backoff.BackOff
}

func New(model ai.ChatModel, docs ContextBuilder, store history.Store, opts Options) (*Assistant, error) {
	if model == nil || docs == nil || store == nil {
		return nil, errors.New("assistant: model, context builder and history store are required")
	}
	a := &Assistant{
		model:           model,
		docs:            docs,
		store:           store,
		persona:         opts.Persona,
		trimmer:         opts.Trimmer,
		locker:          opts.Locker,
		tracer:          opts.Tracer,
		historyTimeout:  opts.HistoryTimeout,
		generateTimeout: opts.GenerateTimeout,
		historyRetries:  opts.HistoryRetries,
		shortCircuit:    opts.ShortCircuit,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	if a.persona == nil {
		a.persona = persona.Default()
	}
	if a.trimmer == nil {
		a.trimmer = chat.NewTrimmer(500, chat.EstimateCounter)
	}
	if a.locker == nil {
		a.locker = lock.NewLocal()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	return a, nil
}

// turn 一次请求准备好的全部输入
type turn struct {
	question  string
	sessionID string
	request   ai.Request
	// fixed 非空时直接作为回答
	fixed  string
	unlock func()
}

// Respond 回答问题并把这一轮问答追加到会话历史
func (a *Assistant) Respond(ctx context.Context, question, sessionID string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.Respond", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	t, err := a.prepare(ctx, question, sessionID)
	if err != nil {
		return "", recordErr(span, err)
	}
	defer t.unlock()

	answer := t.fixed
	if answer == "" {
		answer, err = a.generate(ctx, t.request)
		if err != nil {
			return "", recordErr(span, err)
		}
	}
	if err := a.persist(ctx, t, answer); err != nil {
		return "", recordErr(span, err)
	}
	return answer, nil
}

// RespondStream 与 Respond 相同但逐段输出。只有流完整结束且全部被消费时才写入历史
func (a *Assistant) RespondStream(ctx context.Context, question, sessionID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := a.tracer.Start(ctx, "assistant.RespondStream", trace.WithAttributes(attribute.String("session.id", sessionID)))
		defer span.End()

		t, err := a.prepare(ctx, question, sessionID)
		if err != nil {
			yield("", recordErr(span, err))
			return
		}
		defer t.unlock()

		if t.fixed != "" {
			if !yield(t.fixed, nil) {
				return
			}
			if err := a.persist(ctx, t, t.fixed); err != nil {
				yield("", recordErr(span, err))
			}
			return
		}

		gctx, gspan := a.tracer.Start(ctx, "assistant.generate")
		gctx, cancel := withTimeout(gctx, a.generateTimeout)
		var b strings.Builder
		for part, err := range a.model.Stream(gctx, t.request) {
			if err != nil {
				cancel()
				gspan.End()
				yield("", recordErr(span, fmt.Errorf("%w: %w", ErrGeneration, err)))
				return
			}
			b.WriteString(part)
			if !yield(part, nil) {
				cancel()
				gspan.End()
				slog.Info("stream abandoned by consumer, turn not saved", "session", sessionID)
				return
			}
		}
		cancel()
		gspan.End()

		answer := b.String()
		if strings.TrimSpace(answer) == "" {
			yield("", recordErr(span, fmt.Errorf("%w: %w", ErrGeneration, ai.ErrEmptyResponse)))
			return
		}
		if err := a.persist(ctx, t, answer); err != nil {
			yield("", recordErr(span, err))
		}
	}
}

// prepare 加锁后依次读取历史、构建文档上下文。成功时调用方负责 unlock
func (a *Assistant) prepare(ctx context.Context, question, sessionID string) (*turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is empty", ErrInvalidRequest)
	}

	unlock, err := a.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire session lock: %w", ErrHistoryUnavailable, err)
	}

	// 先读历史：历史不可用时直接失败，不在检索和过滤上浪费模型调用
	hctx, hspan := a.tracer.Start(ctx, "assistant.load_history")
	past, err := a.loadHistory(hctx, sessionID)
	if err != nil {
		recordErr(hspan, err)
		hspan.End()
		unlock()
		return nil, err
	}
	hspan.End()

	dctx, dspan := a.tracer.Start(ctx, "assistant.build_context")
	docs := a.docs.Build(dctx, question)
	dspan.SetAttributes(
		attribute.Int("docs.count", len(docs.Docs)),
		attribute.Bool("docs.degraded", docs.Degraded),
	)
	dspan.End()
	if docs.Degraded {
		slog.Info("no usable documents", "session", sessionID, "reason", docs.Reason)
	}

	msgs := make([]chat.Message, 0, len(past)+1)
	msgs = append(msgs, past...)
	msgs = append(msgs, chat.Human(question))
	trimmed := a.trimmer.Trim(msgs)

	t := &turn{
		question:  question,
		sessionID: sessionID,
		request:   ai.BuildRequest(a.persona, docs.Text(), trimmed),
		unlock:    unlock,
	}
	if docs.Degraded && a.shortCircuit {
		t.fixed = a.persona.NoAnswerReply
	}
	slog.Debug("turn prepared", "session", sessionID, "history", len(past), "trimmed", len(trimmed), "docs", len(docs.Docs))
	return t, nil
}

// loadHistory 读取历史，短暂故障时指数退避重试
func (a *Assistant) loadHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var msgs []chat.Message
	op := func() error {
		lctx, cancel := withTimeout(ctx, a.historyTimeout)
		defer cancel()
		m, err := a.store.Load(lctx, sessionID)
		if err != nil {
			if errors.Is(err, history.ErrSessionIDRequired) {
				return backoff.Permanent(err)
			}
			return err
		}
		msgs = m
		return nil
	}
	notify := func(err error, d time.Duration) {
		slog.Warn("history load failed, retrying", "session", sessionID, "backoff", d, "error", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(a.backOff(), a.historyRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return msgs, nil
}

// generate 调用模型，不重试
func (a *Assistant) generate(ctx context.Context, req ai.Request) (string, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.generate")
	defer span.End()
	ctx, cancel := withTimeout(ctx, a.generateTimeout)
	defer cancel()

	answer, err := a.model.Generate(ctx, req)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		return "", recordErr(span, fmt.Errorf("%w: %w", ErrGeneration, err))
	}
	return answer, nil
}

// persist 原子地追加 human + assistant 一轮
func (a *Assistant) persist(ctx context.Context, t *turn, answer string) error {
	ctx, span := a.tracer.Start(ctx, "assistant.persist")
	defer span.End()
	ctx, cancel := withTimeout(ctx, a.historyTimeout)
	defer cancel()

	if err := a.store.Append(ctx, t.sessionID, chat.Human(t.question), chat.Assistant(answer)); err != nil {
		return recordErr(span, fmt.Errorf("%w: append turn: %w", ErrHistoryUnavailable, err))
	}
	return nil
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
