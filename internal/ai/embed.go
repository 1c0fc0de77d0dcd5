package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
)

const DefaultGeminiEmbedModel = "gemini-embedding-001"

// EmbeddingOptions 选择向量化服务
type EmbeddingOptions struct {
	Provider string // openai, gemini
	Model    string
	APIKey   string
	// BaseURL 仅用于 OpenAI 兼容接口
	BaseURL string
	RPM     int
}

// NewEmbeddingFunc 返回 chromem-go 使用的 embedding 函数
func NewEmbeddingFunc(ctx context.Context, opts EmbeddingOptions) (chromem.EmbeddingFunc, error) {
	if opts.APIKey == "" {
		return nil, errors.New("embedding api key is required")
	}
	switch opts.Provider {
	case "", "openai":
		model := opts.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Large)
		}
		var f chromem.EmbeddingFunc
		if opts.BaseURL != "" {
			f = chromem.NewEmbeddingFuncOpenAICompat(opts.BaseURL, opts.APIKey, model, nil)
		} else {
			f = chromem.NewEmbeddingFuncOpenAI(opts.APIKey, chromem.EmbeddingModelOpenAI(model))
		}
		return limitEmbedding(f, opts.RPM), nil
	case "gemini":
		model := opts.Model
		if model == "" {
			model = DefaultGeminiEmbedModel
		}
		// gemini 客户端内部自带限流和重试
		c, err := NewGeminiClient(ctx, GeminiOptions{
			APIKey:     opts.APIKey,
			EmbedModel: model,
			EmbedRPM:   opts.RPM,
		})
		if err != nil {
			return nil, err
		}
		return c.EmbedFunc(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}

func limitEmbedding(f chromem.EmbeddingFunc, rpm int) chromem.EmbeddingFunc {
	if rpm <= 0 {
		return f
	}
	limiter := NewLimiter(rpm)
	return func(ctx context.Context, text string) ([]float32, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return f(ctx, text)
	}
}
