package ai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Limited 给模型调用加上每分钟请求数限制
type Limited struct {
	next    ChatModel
	limiter *rate.Limiter
}

// WithRateLimit rpm <= 0 时不限流，直接返回原模型
func WithRateLimit(m ChatModel, rpm int) ChatModel {
	if rpm <= 0 {
		return m
	}
	return &Limited{next: m, limiter: NewLimiter(rpm)}
}

// NewLimiter 每分钟 rpm 次、允许一次性用满的令牌桶
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

func (l *Limited) wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		slog.Info("rate limit reached, waiting", "duration", d)
	} else {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (l *Limited) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.Generate(ctx, req)
}

func (l *Limited) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := l.wait(ctx); err != nil {
			yield("", err)
			return
		}
		for part, err := range l.next.Stream(ctx, req) {
			if !yield(part, err) || err != nil {
				return
			}
		}
	}
}
