package chat

// TokenCounter 计算单条消息占用的 token 数
type TokenCounter interface {
	Count(m Message) int
}

// CounterFunc 把普通函数适配为 TokenCounter
type CounterFunc func(m Message) int

func (f CounterFunc) Count(m Message) int { return f(m) }

// Trimmer 把会话历史裁剪到 token 预算内
//
// 保留最近的消息；开头的 system 消息始终保留且占用预算；
// 消息要么完整保留要么丢弃；裁剪后的非 system 部分从 human 消息开始。
type Trimmer struct {
	MaxTokens int
	Counter   TokenCounter
}

func NewTrimmer(maxTokens int, counter TokenCounter) *Trimmer {
	return &Trimmer{MaxTokens: maxTokens, Counter: counter}
}

// Trim 返回裁剪后的消息序列，不修改输入
func (t *Trimmer) Trim(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}

	var system *Message
	rest := msgs
	if msgs[0].Role == RoleSystem {
		system = &msgs[0]
		rest = msgs[1:]
	}

	budget := t.MaxTokens
	if system != nil {
		budget -= t.Counter.Count(*system)
	}

	// 从末尾向前累加，找到能放进预算的最长后缀
	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		n := t.Counter.Count(rest[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}

	// 后缀必须从 human 消息开始
	for start < len(rest) && rest[start].Role != RoleHuman {
		start++
	}

	kept := rest[start:]
	if len(kept) == 0 && len(rest) > 0 && rest[len(rest)-1].Role == RoleHuman {
		// 单条消息就超出预算时整条返回
		kept = rest[len(rest)-1:]
	}

	out := make([]Message, 0, len(kept)+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, kept...)
}
