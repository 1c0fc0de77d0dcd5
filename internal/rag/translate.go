package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/liao/culture-bot/internal/ai"
)

const translatePrompt = `Translate the following text into %s. Return only the translation, without quotes or explanations.

%s`

// Translator 检索前把问题翻译成语料使用的语言
type Translator struct {
	model    ai.ChatModel
	language string
}

func NewTranslator(model ai.ChatModel, language string) *Translator {
	return &Translator{model: model, language: language}
}

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	out, err := t.model.Generate(ctx, ai.Prompt(fmt.Sprintf(translatePrompt, t.language, text)))
	if err != nil {
		return "", fmt.Errorf("translate query: %w", err)
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return "", fmt.Errorf("translate query: %w", ai.ErrEmptyResponse)
	}
	return out, nil
}
