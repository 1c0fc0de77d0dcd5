package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/liao/culture-bot/internal/chat"
)

const defaultAnthropicMaxTokens = 1024

// messagesClient 是 sdk.MessageService 中用到的部分
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

type AnthropicOptions struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

type AnthropicClient struct {
	msg       messagesClient
	model     string
	temp      float64
	maxTokens int64
}

func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(opts.APIKey))
	return newAnthropicClient(&ac.Messages, opts)
}

func newAnthropicClient(msg messagesClient, opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{msg: msg, model: opts.Model, temp: opts.Temperature, maxTokens: maxTokens}, nil
}

func (c *AnthropicClient) params(req Request) sdk.MessageNewParams {
	var system []sdk.TextBlockParam
	if req.System != "" {
		system = append(system, sdk.TextBlockParam{Text: req.System})
	}
	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleHuman:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case chat.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case chat.RoleSystem:
			// Messages API 只接受顶层 system
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		}
	}
	if len(messages) == 0 && len(system) > 0 {
		// Messages API 至少需要一条用户消息
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(system))
		for _, s := range system {
			blocks = append(blocks, sdk.NewTextBlock(s.Text))
		}
		messages = append(messages, sdk.NewUserMessage(blocks...))
		system = nil
	}
	return sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    messages,
		System:      system,
		Temperature: sdk.Float(c.temp),
	}
}

func (c *AnthropicClient) Generate(ctx context.Context, req Request) (string, error) {
	msg, err := c.msg.New(ctx, c.params(req))
	if err != nil {
		return "", wrapAnthropicError(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.msg.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		for stream.Next() {
			text := eventText(stream.Current())
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapAnthropicError(err))
		}
	}
}

func eventText(event sdk.MessageStreamEventUnion) string {
	ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
	if !ok {
		return ""
	}
	if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok {
		return delta.Text
	}
	return ""
}

func wrapAnthropicError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return fmt.Errorf("anthropic messages: %w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic messages: %w", err)
}
