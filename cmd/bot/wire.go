package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/assistant"
	"github.com/liao/culture-bot/internal/chat"
	"github.com/liao/culture-bot/internal/config"
	"github.com/liao/culture-bot/internal/history"
	"github.com/liao/culture-bot/internal/lock"
	"github.com/liao/culture-bot/internal/parser"
	"github.com/liao/culture-bot/internal/persona"
	"github.com/liao/culture-bot/internal/rag"
)

// 清单缺失时给自查询用的语料描述
const defaultContentDescription = "Tài liệu về văn hóa doanh nghiệp, nội quy và chính sách của công ty BBAS"

// app 组装好的问答服务及其需要关闭的连接
type app struct {
	persona   *persona.Persona
	assistant *assistant.Assistant
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	// Persona
	a.persona = persona.Default()
	if cfg.Data.PersonaFile != "" {
		p, err := persona.LoadFromFile(cfg.Data.PersonaFile)
		if err != nil {
			slog.Warn("load persona failed, using default", "error", err)
		} else {
			a.persona = p
		}
	}

	model, err := newChatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	slog.Info("chat model initialized", "provider", cfg.LLM.Provider, "models", cfg.LLM.ChatModels())

	// 向量存储 + 检索
	apiKey, baseURL := cfg.EmbeddingCredentials()
	embed, err := ai.NewEmbeddingFunc(ctx, ai.EmbeddingOptions{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		RPM:      cfg.Embedding.RPMLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding func: %w", err)
	}
	store, err := rag.NewStore(cfg.RAG.VectorsDir, cfg.RAG.Collection, embed)
	if err != nil {
		return nil, err
	}
	if store.Count() == 0 {
		slog.Warn("vector store is empty, every question will get the no-information reply; run the indexer first")
	}

	analyzer, err := newQueryAnalyzer(model, cfg)
	if err != nil {
		return nil, err
	}
	var translator *rag.Translator
	if cfg.RAG.QueryLanguage != "" {
		translator = rag.NewTranslator(model, cfg.RAG.QueryLanguage)
	}
	pipeline := rag.NewPipeline(
		rag.NewRetriever(store, analyzer, cfg.RAG.TopK, cfg.RAG.MinSimilarity),
		rag.NewRelevanceFilter(model, a.persona.NoDocsText),
		rag.PipelineOptions{
			Translator:      translator,
			RetrieveTimeout: cfg.RAG.RetrieveTimeout,
			FilterTimeout:   cfg.RAG.FilterTimeout,
		},
	)

	// 会话历史 + 会话锁
	hist, err := a.newHistoryStore(ctx, cfg.History)
	if err != nil {
		return nil, err
	}
	locker, err := a.newLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}

	a.assistant, err = assistant.New(model, pipeline, hist, assistant.Options{
		Persona:         a.persona,
		Trimmer:         chat.NewTrimmer(cfg.Memory.MaxTokens, chat.NewTiktokenCounter(cfg.LLM.ChatModels()[0])),
		Locker:          locker,
		HistoryTimeout:  cfg.History.Timeout,
		GenerateTimeout: cfg.LLM.Timeout,
		HistoryRetries:  cfg.History.Retries,
		ShortCircuit:    cfg.RAG.ShortCircuit,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close 逆序关闭外部连接
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func newChatModel(ctx context.Context, c config.LLMConfig) (ai.ChatModel, error) {
	var model ai.ChatModel
	switch c.Provider {
	case "openai":
		client, err := ai.NewOpenAIClient(ai.OpenAIOptions{
			APIKey:      c.OpenAIAPIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   int64(c.MaxTokens),
		})
		if err != nil {
			return nil, err
		}
		model = client
	case "gemini":
		client, err := ai.NewGeminiClient(ctx, ai.GeminiOptions{
			APIKey:          c.GeminiAPIKey,
			ChatModels:      c.ChatModels(),
			Temperature:     float32(c.Temperature),
			MaxOutputTokens: int32(c.MaxTokens),
		})
		if err != nil {
			return nil, err
		}
		model = client
	case "anthropic":
		client, err := ai.NewAnthropicClient(ai.AnthropicOptions{
			APIKey:      c.AnthropicAPIKey,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   int64(c.MaxTokens),
		})
		if err != nil {
			return nil, err
		}
		model = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
	return ai.WithRateLimit(model, c.RPMLimit), nil
}

// newQueryAnalyzer 关闭自查询时返回 nil，检索直接使用原问题
func newQueryAnalyzer(model ai.ChatModel, cfg *config.Config) (*rag.QueryAnalyzer, error) {
	if !cfg.RAG.SelfQuery {
		return nil, nil
	}
	description := defaultContentDescription
	var attrs []parser.Attribute
	if cfg.Data.ManifestFile != "" {
		m, err := parser.LoadManifest(cfg.Data.ManifestFile)
		if err != nil {
			slog.Warn("load corpus manifest failed, self-query runs without filters", "error", err)
		} else {
			if m.ContentDescription != "" {
				description = m.ContentDescription
			}
			attrs = m.Attributes
		}
	}
	return rag.NewQueryAnalyzer(model, description, attrs, cfg.RAG.TopK, cfg.RAG.MaxLimit)
}

func (a *app) newHistoryStore(ctx context.Context, c config.HistoryConfig) (history.Store, error) {
	switch c.Backend {
	case "memory":
		slog.Warn("history backend is in-memory, conversations are lost on restart")
		return history.NewMemoryStore(), nil
	case "file":
		return history.NewFileStore(c.Dir)
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)

		store, err := history.NewMongoStore(history.MongoOptions{
			Client:     client,
			Database:   c.Database,
			Collection: c.Collection,
			Timeout:    c.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		slog.Info("history store connected", "backend", "mongo", "database", c.Database)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", c.Backend)
	}
}

func (a *app) newLocker(ctx context.Context, c config.LockConfig) (lock.Locker, error) {
	switch c.Backend {
	case "local":
		return lock.NewLocal(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return lock.NewRedis(rdb, c.Prefix, c.TTL), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", c.Backend)
	}
}
