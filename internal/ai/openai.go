package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/liao/culture-bot/internal/chat"
)

const DefaultOpenAIModel = "gpt-4o-mini-2024-07-18"

// chatCompletions 是 openai.ChatCompletionService 中用到的部分
type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

type OpenAIClient struct {
	completions chatCompletions
	model       string
	temp        float64
	maxTokens   int64
}

func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return newOpenAIClient(&client.Chat.Completions, opts), nil
}

func newOpenAIClient(completions chatCompletions, opts OpenAIOptions) *OpenAIClient {
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		completions: completions,
		model:       model,
		temp:        opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleHuman:
			messages = append(messages, openai.UserMessage(m.Content))
		case chat.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case chat.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temp),
	}
	if c.maxTokens > 0 {
		p.MaxTokens = openai.Int(c.maxTokens)
	}
	return p
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	completion, err := c.completions.New(ctx, c.params(req))
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai: no response choices returned: %w", ErrEmptyResponse)
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.completions.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		for stream.Next() {
			text := chunkText(stream.Current())
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapOpenAIError(err))
		}
	}
}

func chunkText(chunk openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return fmt.Errorf("openai chat completion: %w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
