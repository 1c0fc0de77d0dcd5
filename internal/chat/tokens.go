package chat

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 每条消息的固定开销（role 分隔符等），与 OpenAI 的计数方式一致
const tokensPerMessage = 3

// TiktokenCounter 使用与生成模型相同的 BPE 编码计数，编码在首次使用时加载
type TiktokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		slog.Debug("no encoding for model, using cl100k_base", "model", c.model, "error", err)
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		c.err = fmt.Errorf("load tiktoken encoding: %w", err)
		slog.Warn("tokenizer unavailable, falling back to rune estimate", "error", c.err)
		return
	}
	c.enc = enc
}

func (c *TiktokenCounter) Count(m Message) int {
	c.once.Do(c.load)
	if c.enc == nil {
		return EstimateCounter.Count(m)
	}
	return tokensPerMessage +
		len(c.enc.Encode(string(m.Role), nil, nil)) +
		len(c.enc.Encode(m.Content, nil, nil))
}

// EstimateCounter 不需要加载编码文件的粗略计数
var EstimateCounter = CounterFunc(func(m Message) int {
	return tokensPerMessage + estimate(string(m.Role)) + estimate(m.Content)
})

// estimate 粗略估算：越南语平均约 2 个字符一个 token
func estimate(s string) int {
	n := len([]rune(s))
	return (n + 1) / 2
}
