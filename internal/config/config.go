package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	History   HistoryConfig   `mapstructure:"history"`
	Lock      LockConfig      `mapstructure:"lock"`
	Bot       BotConfig       `mapstructure:"bot"`
	NapCat    NapCatConfig    `mapstructure:"napcat"`
	Data      DataConfig      `mapstructure:"data"`
	Log       LogConfig       `mapstructure:"log"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"` // openai, gemini, anthropic
	Model    string `mapstructure:"model"`
	// Models gemini 多模型轮换，为空时只用 Model
	Models      []string      `mapstructure:"models"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	RPMLimit    int           `mapstructure:"rpm_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // openai, gemini
	Model    string `mapstructure:"model"`
	RPMLimit int    `mapstructure:"rpm_limit"`
}

type RAGConfig struct {
	VectorsDir    string  `mapstructure:"vectors_dir"`
	Collection    string  `mapstructure:"collection"`
	TopK          int     `mapstructure:"top_k"`
	MaxLimit      int     `mapstructure:"max_limit"`
	MinSimilarity float32 `mapstructure:"min_similarity"`
	SelfQuery     bool    `mapstructure:"self_query"`
	// QueryLanguage 非空时检索前把问题翻译成该语言
	QueryLanguage   string        `mapstructure:"query_language"`
	RetrieveTimeout time.Duration `mapstructure:"retrieve_timeout"`
	FilterTimeout   time.Duration `mapstructure:"filter_timeout"`
	ShortCircuit    bool          `mapstructure:"short_circuit"`
}

type MemoryConfig struct {
	MaxTokens int `mapstructure:"max_tokens"`
}

type HistoryConfig struct {
	Backend    string        `mapstructure:"backend"` // memory, file, mongo
	Dir        string        `mapstructure:"dir"`
	MongoURI   string        `mapstructure:"mongo_uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    uint64        `mapstructure:"retries"`
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend"` // local, redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type BotConfig struct {
	NickName   []string `mapstructure:"nickname"`
	SuperUsers []int64  `mapstructure:"super_users"`
	// Groups 允许响应 @ 的群，为空时只响应私聊
	Groups        []int64 `mapstructure:"groups"`
	MaxReplyRunes int     `mapstructure:"max_reply_runes"`
}

type NapCatConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
}

type DataConfig struct {
	PersonaFile  string `mapstructure:"persona_file"`
	ManifestFile string `mapstructure:"manifest_file"`
	DecryptKey   string `mapstructure:"decrypt_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini-2024-07-18")
	v.SetDefault("llm.models", []string{})
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.rpm_limit", 60)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.rpm_limit", 0)

	v.SetDefault("rag.vectors_dir", "data/vectors")
	v.SetDefault("rag.collection", "culture")
	v.SetDefault("rag.top_k", 4)
	v.SetDefault("rag.max_limit", 10)
	v.SetDefault("rag.min_similarity", 0.0)
	v.SetDefault("rag.self_query", true)
	v.SetDefault("rag.query_language", "")
	v.SetDefault("rag.retrieve_timeout", "20s")
	v.SetDefault("rag.filter_timeout", "30s")
	v.SetDefault("rag.short_circuit", true)

	v.SetDefault("memory.max_tokens", 500)

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.dir", "data/sessions")
	v.SetDefault("history.mongo_uri", "")
	v.SetDefault("history.database", "culture_bot")
	v.SetDefault("history.collection", "messages")
	v.SetDefault("history.timeout", "5s")
	v.SetDefault("history.retries", 3)

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.prefix", "culture-bot:lock:")
	v.SetDefault("lock.ttl", "2m")

	v.SetDefault("bot.nickname", []string{"BBAS"})
	v.SetDefault("bot.super_users", []int64{})
	v.SetDefault("bot.groups", []int64{})
	v.SetDefault("bot.max_reply_runes", 1500)

	v.SetDefault("napcat.ws_url", "ws://127.0.0.1:3001")
	v.SetDefault("napcat.access_token", "")

	v.SetDefault("data.persona_file", "")
	v.SetDefault("data.manifest_file", "data/corpus.yaml")
	v.SetDefault("data.decrypt_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 读取配置文件（path 为空时只用默认值和环境变量），并加载当前目录下的 .env
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// 环境变量覆盖
	for env, key := range map[string]string{
		"OPENAI_API_KEY":      "llm.openai_api_key",
		"GEMINI_API_KEY":      "llm.gemini_api_key",
		"ANTHROPIC_API_KEY":   "llm.anthropic_api_key",
		"NAPCAT_ACCESS_TOKEN": "napcat.access_token",
		"MONGODB_URI":         "history.mongo_uri",
		"REDIS_PASSWORD":      "lock.redis_password",
		"CORPUS_DECRYPT_KEY":  "data.decrypt_key",
	} {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查必填项和取值范围
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("llm.openai_api_key is required (set in config or OPENAI_API_KEY env)"))
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			errs = append(errs, errors.New("llm.gemini_api_key is required (set in config or GEMINI_API_KEY env)"))
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("llm.anthropic_api_key is required (set in config or ANTHROPIC_API_KEY env)"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" && len(c.LLM.Models) == 0 {
		errs = append(errs, errors.New("llm.model is required"))
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" && c.LLM.Provider != "openai" {
			errs = append(errs, errors.New("openai embeddings need llm.openai_api_key"))
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" && c.LLM.Provider != "gemini" {
			errs = append(errs, errors.New("gemini embeddings need llm.gemini_api_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}

	if c.RAG.TopK <= 0 {
		errs = append(errs, errors.New("rag.top_k must be positive"))
	}
	if c.Memory.MaxTokens <= 0 {
		errs = append(errs, errors.New("memory.max_tokens must be positive"))
	}

	switch c.History.Backend {
	case "memory":
	case "file":
		if c.History.Dir == "" {
			errs = append(errs, errors.New("history.dir is required for the file backend"))
		}
	case "mongo":
		if c.History.MongoURI == "" {
			errs = append(errs, errors.New("history.mongo_uri is required for the mongo backend (or MONGODB_URI env)"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend: unknown backend %q", c.History.Backend))
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend))
	}

	return errors.Join(errs...)
}

// ChatModels 供 gemini 轮换的模型列表
func (c LLMConfig) ChatModels() []string {
	if len(c.Models) > 0 {
		return c.Models
	}
	return []string{c.Model}
}

// EmbeddingCredentials 向量化服务使用的 API key，OpenAI 兼容接口时附带 base url
func (c *Config) EmbeddingCredentials() (apiKey, baseURL string) {
	if c.Embedding.Provider == "gemini" {
		return c.LLM.GeminiAPIKey, ""
	}
	if c.LLM.Provider == "openai" {
		baseURL = c.LLM.BaseURL
	}
	return c.LLM.OpenAIAPIKey, baseURL
}
