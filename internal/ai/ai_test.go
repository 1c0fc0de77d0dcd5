package ai

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/liao/culture-bot/internal/chat"
	"github.com/liao/culture-bot/internal/persona"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := persona.Default()
	got := BuildSystemPrompt(p, "Nghỉ phép 12 ngày mỗi năm.")

	assert.True(t, strings.HasPrefix(got, "Bạn là AI Chatbot của Công ty CP TM & SX Bao Bì Ánh Sáng hay BBAS."))
	assert.Contains(t, got, "Tài liệu được cung cấp: Nghỉ phép 12 ngày mỗi năm.")
	assert.Contains(t, got, `"`+p.NoDocsText+`"`)
	assert.Contains(t, got, `"`+p.NoAnswerReply+`"`)
	assert.True(t, strings.HasSuffix(got, "Câu hỏi:"))
}

func TestBuildRequestMergesSystemMessages(t *testing.T) {
	msgs := []chat.Message{
		chat.System("Tóm tắt trước đó"),
		chat.Human("Xin chào"),
		chat.Assistant("Chào bạn"),
		chat.Human("Giờ làm việc?"),
	}
	req := BuildRequest(persona.Default(), "doc", msgs)

	assert.True(t, strings.HasPrefix(req.System, "Tóm tắt trước đó\n"))
	require.Len(t, req.Messages, 3)
	assert.Equal(t, chat.RoleHuman, req.Messages[0].Role)
	assert.Equal(t, "Giờ làm việc?", req.Messages[2].Content)
}

func TestBuildRequestIsPure(t *testing.T) {
	msgs := []chat.Message{chat.Human("a")}
	a := BuildRequest(persona.Default(), "d", msgs)
	b := BuildRequest(persona.Default(), "d", msgs)
	assert.Equal(t, a, b)
}

func TestSplitReply(t *testing.T) {
	assert.Nil(t, SplitReply("  ", 10))
	assert.Equal(t, []string{"ngắn"}, SplitReply("ngắn", 10))

	reply := "đoạn một\nđoạn hai\nđoạn ba"
	parts := SplitReply(reply, 17)
	assert.Equal(t, []string{"đoạn một\nđoạn hai", "đoạn ba"}, parts)

	long := strings.Repeat("á", 25)
	parts = SplitReply(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestCollect(t *testing.T) {
	seq := func(yield func(string, error) bool) {
		_ = yield("Xin ", nil) && yield("chào", nil)
	}
	got, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", got)

	_, err = Collect(errSeq(errors.New("boom")))
	assert.EqualError(t, err, "boom")

	_, err = Collect(func(yield func(string, error) bool) {})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type countingModel struct {
	mu    sync.Mutex
	calls int
}

func (m *countingModel) Generate(context.Context, Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return "ok", nil
}

func (m *countingModel) Stream(context.Context, Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()
		yield("ok", nil)
	}
}

func TestWithRateLimit(t *testing.T) {
	inner := &countingModel{}
	assert.Same(t, inner, WithRateLimit(inner, 0))

	limited := WithRateLimit(inner, 1)
	_, err := limited.Generate(context.Background(), Request{})
	require.NoError(t, err)

	// 令牌已用完，下一次调用要等一分钟
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited.Generate(ctx, Request{})
	assert.Error(t, err)

	_, err = Collect(limited.Stream(ctx, Request{}))
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

type fakeGemini struct {
	mu        sync.Mutex
	errs      map[string]error
	reply     string
	calls     []string
	contents  []*genai.Content
	config    *genai.GenerateContentConfig
	embedErrs []error
	embedN    int
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(s, genai.RoleModel)}},
	}
}

func (f *fakeGemini) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	f.contents, f.config = contents, cfg
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	return textResponse(f.reply), nil
}

func (f *fakeGemini) GenerateContentStream(_ context.Context, model string, _ []*genai.Content, _ *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, model)
		err := f.errs[model]
		f.mu.Unlock()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, w := range strings.SplitAfter(f.reply, " ") {
			if !yield(textResponse(w), nil) {
				return
			}
		}
	}
}

func (f *fakeGemini) EmbedContent(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedN++
	if len(f.embedErrs) > 0 {
		err := f.embedErrs[0]
		f.embedErrs = f.embedErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.6, 0.8}}},
	}, nil
}

func newTestGemini(t *testing.T, f *fakeGemini) *GeminiClient {
	t.Helper()
	c, err := newGeminiClient(f, GeminiOptions{ChatModels: []string{"a", "b"}, EmbedModel: "e"})
	require.NoError(t, err)
	c.backOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }
	return c
}

func TestGeminiRotatesOnQuota(t *testing.T) {
	f := &fakeGemini{
		errs:  map[string]error{"a": errors.New("Error 429, Status: RESOURCE_EXHAUSTED")},
		reply: "xin chào",
	}
	c := newTestGemini(t, f)

	got, err := c.Generate(context.Background(), Request{Messages: []chat.Message{chat.Human("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "xin chào", got)
	assert.Equal(t, []string{"a", "b"}, f.calls)
	assert.Equal(t, "b", c.currentModel())
}

func TestGeminiDoesNotRetryOtherErrors(t *testing.T) {
	f := &fakeGemini{errs: map[string]error{"a": errors.New("invalid argument")}}
	c := newTestGemini(t, f)

	_, err := c.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, f.calls)
}

func TestGeminiAllModelsExhausted(t *testing.T) {
	quota := errors.New("429")
	f := &fakeGemini{errs: map[string]error{"a": quota, "b": quota}}
	c := newTestGemini(t, f)

	_, err := c.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGeminiSendsUserTurn(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		wantText   string
		wantSystem bool
	}{
		{"prompt", Prompt("Câu hỏi có liên quan không?"), "Câu hỏi có liên quan không?", false},
		{"system only", Request{System: "Dịch sang tiếng Việt: leave policy"}, "Dịch sang tiếng Việt: leave policy", false},
		{"system with history", Request{System: "sys", Messages: []chat.Message{chat.Human("hỏi")}}, "hỏi", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeGemini{reply: "YES"}
			c := newTestGemini(t, f)

			_, err := c.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			require.Len(t, f.contents, 1)
			assert.Equal(t, genai.RoleUser, f.contents[0].Role)
			require.Len(t, f.contents[0].Parts, 1)
			assert.Equal(t, tt.wantText, f.contents[0].Parts[0].Text)
			assert.Equal(t, tt.wantSystem, f.config.SystemInstruction != nil)
		})
	}
}

func TestGeminiEmptyReply(t *testing.T) {
	c := newTestGemini(t, &fakeGemini{reply: "  "})
	_, err := c.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiStream(t *testing.T) {
	f := &fakeGemini{
		errs:  map[string]error{"a": errors.New("RESOURCE_EXHAUSTED")},
		reply: "một hai ba",
	}
	c := newTestGemini(t, f)

	var parts []string
	for p, err := range c.Stream(context.Background(), Request{}) {
		require.NoError(t, err)
		parts = append(parts, p)
	}
	assert.Equal(t, []string{"một ", "hai ", "ba"}, parts)
}

func TestGeminiEmbedRetries(t *testing.T) {
	f := &fakeGemini{embedErrs: []error{errors.New("unavailable"), nil}}
	c := newTestGemini(t, f)

	vec, err := c.EmbedFunc()(context.Background(), "văn hóa")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, vec)
	assert.Equal(t, 2, f.embedN)

	f.embedErrs = []error{errors.New("x"), errors.New("x"), errors.New("x")}
	_, err = c.Embed(context.Background(), "văn hóa")
	assert.Error(t, err)
}

func TestNewEmbeddingFunc(t *testing.T) {
	ctx := context.Background()

	_, err := NewEmbeddingFunc(ctx, EmbeddingOptions{Provider: "openai"})
	assert.Error(t, err)

	_, err = NewEmbeddingFunc(ctx, EmbeddingOptions{Provider: "word2vec", APIKey: "k"})
	assert.ErrorContains(t, err, "word2vec")

	f, err := NewEmbeddingFunc(ctx, EmbeddingOptions{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestLimitEmbedding(t *testing.T) {
	calls := 0
	inner := func(context.Context, string) ([]float32, error) {
		calls++
		return []float32{1}, nil
	}

	limited := limitEmbedding(inner, 1)
	_, err := limited(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited(ctx, "b")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
