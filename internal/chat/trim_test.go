package chat

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// wordCounter 每个单词计 1 个 token
var wordCounter = CounterFunc(func(m Message) int {
	return len(strings.Fields(m.Content))
})

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("chữ ", n))
}

func TestTrimKeepsMostRecentWithinBudget(t *testing.T) {
	msgs := []Message{
		Human(words(5)),
		Assistant(words(5)),
		Human(words(3)),
		Assistant(words(3)),
		Human(words(2)),
	}
	got := NewTrimmer(8, wordCounter).Trim(msgs)
	require.Equal(t, msgs[2:], got)
}

func TestTrimAdvancesToHumanBoundary(t *testing.T) {
	msgs := []Message{
		Human(words(4)),
		Assistant(words(4)),
		Human(words(1)),
		Assistant(words(1)),
		Human(words(1)),
	}
	// 预算 7 时朴素后缀从 assistant(4) 开始，需要推进到下一个 human
	got := NewTrimmer(7, wordCounter).Trim(msgs)
	require.Equal(t, msgs[2:], got)
}

func TestTrimKeepsLeadingSystemMessage(t *testing.T) {
	msgs := []Message{
		System(words(3)),
		Human(words(4)),
		Assistant(words(4)),
		Human(words(2)),
	}
	got := NewTrimmer(6, wordCounter).Trim(msgs)
	require.Equal(t, []Message{msgs[0], msgs[3]}, got)
}

func TestTrimSystemMessageOverBudgetStillKept(t *testing.T) {
	msgs := []Message{System(words(50)), Human(words(2))}
	got := NewTrimmer(10, wordCounter).Trim(msgs)
	require.Equal(t, msgs, got)
}

func TestTrimOversizedLastHumanReturnedAlone(t *testing.T) {
	msgs := []Message{Human(words(1)), Assistant(words(1)), Human(words(30))}
	got := NewTrimmer(10, wordCounter).Trim(msgs)
	require.Equal(t, msgs[2:], got)
}

func TestTrimNeverSplitsMessages(t *testing.T) {
	msgs := []Message{Human(words(6))}
	got := NewTrimmer(100, wordCounter).Trim(msgs)
	require.Equal(t, words(6), got[0].Content)
}

func TestTrimEmpty(t *testing.T) {
	require.Empty(t, NewTrimmer(10, wordCounter).Trim(nil))
}

func TestTrimDoesNotMutateInput(t *testing.T) {
	msgs := []Message{Human("a b"), Assistant("c"), Human("d")}
	orig := append([]Message(nil), msgs...)
	NewTrimmer(1, wordCounter).Trim(msgs)
	require.Equal(t, orig, msgs)
}

// decode 把整数编码成消息：奇偶决定角色，其余决定长度
func decode(codes []int) []Message {
	msgs := make([]Message, len(codes))
	for i, c := range codes {
		role := RoleHuman
		if c%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = Message{Role: role, Content: words(c/2 + 1)}
	}
	return msgs
}

func total(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += wordCounter.Count(m)
	}
	return n
}

func TestTrimProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	codes := gen.SliceOf(gen.IntRange(0, 59))
	budgets := gen.IntRange(0, 120)

	properties.Property("result is a contiguous suffix", prop.ForAll(
		func(codes []int, budget int) bool {
			msgs := decode(codes)
			got := NewTrimmer(budget, wordCounter).Trim(msgs)
			if len(got) > len(msgs) {
				return false
			}
			tail := msgs[len(msgs)-len(got):]
			for i := range got {
				if got[i] != tail[i] {
					return false
				}
			}
			return true
		},
		codes, budgets,
	))

	properties.Property("result starts on a human message", prop.ForAll(
		func(codes []int, budget int) bool {
			got := NewTrimmer(budget, wordCounter).Trim(decode(codes))
			return len(got) == 0 || got[0].Role == RoleHuman
		},
		codes, budgets,
	))

	properties.Property("result fits the budget unless a lone message exceeds it", prop.ForAll(
		func(codes []int, budget int) bool {
			got := NewTrimmer(budget, wordCounter).Trim(decode(codes))
			if total(got) <= budget {
				return true
			}
			return len(got) == 1 && wordCounter.Count(got[0]) > budget
		},
		codes, budgets,
	))

	properties.Property("history ending on a human message is never trimmed to nothing", prop.ForAll(
		func(codes []int, budget int) bool {
			msgs := append(decode(codes), Human(words(1+budget%7)))
			return len(NewTrimmer(budget, wordCounter).Trim(msgs)) > 0
		},
		codes, budgets,
	))

	properties.Property("trim is deterministic", prop.ForAll(
		func(codes []int, budget int) bool {
			msgs := decode(codes)
			tr := NewTrimmer(budget, wordCounter)
			a, b := tr.Trim(msgs), tr.Trim(msgs)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		codes, budgets,
	))

	properties.TestingRun(t)
}
