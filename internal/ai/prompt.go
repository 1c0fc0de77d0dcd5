package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liao/culture-bot/internal/chat"
	"github.com/liao/culture-bot/internal/persona"
)

// BuildSystemPrompt 组装固定的越南语系统提示
func BuildSystemPrompt(p *persona.Persona, docText string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Bạn là AI Chatbot của %s. \n", p.DisplayName())
	fmt.Fprintf(&b, "Bạn ở đây để trả lời tất cả các câu hỏi về %s với các tài liệu bạn được cung cấp. \n", p.Topic)
	fmt.Fprintf(&b, "Tài liệu được cung cấp: %s \n", docText)
	fmt.Fprintf(&b, "Nếu tài liệu được cung cấp là \"%s\" hoặc các tài liệu được cung cấp không liên quan đến câu hỏi hoặc yêu cầu thì trả lời là \"%s\"\n",
		p.NoDocsText, p.NoAnswerReply)
	b.WriteString("Lưu ý: CHỈ TRẢ LỜI CÁC CÂU HỎI HOẶC YÊU CẦU ĐƯỢC HỎI. CÁC ĐỊNH NGHĨA CŨNG NHƯ CÁC THÔNG ĐIỆP NÊN GIỮ NGUYÊN, KHÔNG THAY ĐỔI. KHÔNG RÚT GỌN TÀI LIỆU ĐỂ TRẢ LỜI.\n")
	for _, n := range p.Notes {
		fmt.Fprintf(&b, "%s\n", n)
	}
	b.WriteString("Câu hỏi:")
	return b.String()
}

// BuildRequest 系统提示 + 已裁剪的对话。历史里的 system 消息并入系统提示
func BuildRequest(p *persona.Persona, docText string, msgs []chat.Message) Request {
	system := BuildSystemPrompt(p, docText)
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			system = m.Content + "\n" + system
			continue
		}
		out = append(out, m)
	}
	return Request{System: system, Messages: out}
}

// SplitReply 按段落把长回复切成若干条，每条不超过 maxRunes 个字符
func SplitReply(reply string, maxRunes int) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}
	if maxRunes <= 0 || utf8.RuneCountInString(reply) <= maxRunes {
		return []string{reply}
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(reply, "\n") {
		for _, piece := range hardWrap(para, maxRunes) {
			if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+utf8.RuneCountInString(piece) > maxRunes {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return parts
}

// hardWrap 单个段落超长时按字符硬切
func hardWrap(s string, maxRunes int) []string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return []string{s}
	}
	var out []string
	for len(runes) > maxRunes {
		out = append(out, string(runes[:maxRunes]))
		runes = runes[maxRunes:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
