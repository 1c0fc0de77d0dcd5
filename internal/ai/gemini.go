package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/liao/culture-bot/internal/chat"
)

// geminiModels 是 genai.Models 中用到的部分
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type GeminiOptions struct {
	APIKey          string
	ChatModels      []string // 多模型轮换
	EmbedModel      string
	Temperature     float32
	MaxOutputTokens int32
	// EmbedRPM 仅限制 embedding 请求，对话请求由 WithRateLimit 限制
	EmbedRPM int
}

type GeminiClient struct {
	models     geminiModels
	chatModels []string
	modelIdx   atomic.Int64
	embedModel string
	temp       float32
	maxTokens  int32

	limiter *rate.Limiter
	backOff func() backoff.BackOff
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(client.Models, opts)
}

func newGeminiClient(models geminiModels, opts GeminiOptions) (*GeminiClient, error) {
	if len(opts.ChatModels) == 0 && opts.EmbedModel == "" {
		return nil, errors.New("gemini: no chat or embedding model configured")
	}
	return &GeminiClient{
		models:     models,
		chatModels: opts.ChatModels,
		embedModel: opts.EmbedModel,
		temp:       opts.Temperature,
		maxTokens:  opts.MaxOutputTokens,
		limiter:    NewLimiter(opts.EmbedRPM),
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return backoff.WithMaxRetries(b, 2)
		},
	}, nil
}

// currentModel 获取当前模型
func (c *GeminiClient) currentModel() string {
	idx := c.modelIdx.Load() % int64(len(c.chatModels))
	return c.chatModels[idx]
}

// rotateModel 切换到下一个模型
func (c *GeminiClient) rotateModel() string {
	newIdx := c.modelIdx.Add(1) % int64(len(c.chatModels))
	model := c.chatModels[newIdx]
	slog.Info("rotating to next model", "model", model)
	return model
}

func (c *GeminiClient) buildContents(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleHuman:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case chat.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temp),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	switch {
	case req.System == "":
	case len(contents) == 0:
		// 只有系统指令时作为用户消息发送，否则 API 拒绝空 contents
		contents = append(contents, genai.NewContentFromText(req.System, genai.RoleUser))
	default:
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return contents, cfg
}

// Generate 生成回复，配额耗尽时切换到下一个模型，其他错误直接返回
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if len(c.chatModels) == 0 {
		return "", errors.New("gemini: no chat model configured")
	}
	contents, cfg := c.buildContents(req)

	var lastErr error
	for range c.chatModels {
		model := c.currentModel()
		resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			lastErr = err
			if isQuotaError(err) && ctx.Err() == nil {
				slog.Warn("model quota exceeded, switching", "model", model)
				c.rotateModel()
				continue
			}
			return "", fmt.Errorf("gemini generate (%s): %w", model, err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		slog.Debug("generated reply", "model", model)
		return text, nil
	}
	return "", fmt.Errorf("all models exhausted: %w: %w", ErrRateLimited, lastErr)
}

// Stream 流式生成，只有在还没输出任何内容时才会切换模型
func (c *GeminiClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	if len(c.chatModels) == 0 {
		return errSeq(errors.New("gemini: no chat model configured"))
	}
	contents, cfg := c.buildContents(req)

	return func(yield func(string, error) bool) {
		var lastErr error
		for range c.chatModels {
			model := c.currentModel()
			emitted := false
			var streamErr error
			for resp, err := range c.models.GenerateContentStream(ctx, model, contents, cfg) {
				if err != nil {
					streamErr = err
					break
				}
				text := resp.Text()
				if text == "" {
					continue
				}
				emitted = true
				if !yield(text, nil) {
					return
				}
			}
			if streamErr == nil {
				return
			}
			lastErr = streamErr
			if !emitted && isQuotaError(streamErr) && ctx.Err() == nil {
				slog.Warn("model quota exceeded, switching", "model", model)
				c.rotateModel()
				continue
			}
			yield("", fmt.Errorf("gemini stream (%s): %w", model, streamErr))
			return
		}
		yield("", fmt.Errorf("all models exhausted: %w: %w", ErrRateLimited, lastErr))
	}
}

// Embed 生成文本嵌入向量，失败时指数退避重试
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var vec []float32
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.models.EmbedContent(ctx, c.embedModel,
			[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
		if err != nil {
			slog.Warn("embed failed, retrying", "attempt", attempt, "error", err)
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return backoff.Permanent(errors.New("empty embedding response"))
		}
		vec = resp.Embeddings[0].Values
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.backOff(), ctx)); err != nil {
		return nil, fmt.Errorf("embed failed after %d attempts: %w", attempt, err)
	}
	return vec, nil
}

// EmbedFunc 返回一个可用于 chromem-go 的 embedding 函数
func (c *GeminiClient) EmbedFunc() func(ctx context.Context, text string) ([]float32, error) {
	return c.Embed
}
