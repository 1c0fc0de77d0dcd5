package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	DefaultCompanyName   = "Công ty CP TM & SX Bao Bì Ánh Sáng"
	DefaultShortName     = "BBAS"
	DefaultTopic         = "văn hóa doanh nghiệp"
	DefaultNoDocsText    = "Không có tài liệu liên quan đến câu hỏi hoặc yêu cầu này."
	DefaultNoAnswerReply = "Tôi không được cung cấp thông tin để trả lời câu hỏi này"
	DefaultFallbackReply = "Hệ thống đang bận, bạn vui lòng thử lại sau ít phút."
)

// Persona 聊天机器人代表的公司身份以及固定回复
type Persona struct {
	CompanyName string `json:"company_name"`
	ShortName   string `json:"short_name"`
	Topic       string `json:"topic"`

	// NoDocsText 检索不到相关文档时放入上下文的占位文本
	NoDocsText string `json:"no_docs_text"`
	// NoAnswerReply 没有资料时的固定回答
	NoAnswerReply string `json:"no_answer_reply"`
	// FallbackReply 内部错误时发给用户的话
	FallbackReply string `json:"fallback_reply"`

	// Notes 追加到系统提示末尾的额外规则
	Notes []string `json:"notes"`
}

func Default() *Persona {
	return &Persona{
		CompanyName:   DefaultCompanyName,
		ShortName:     DefaultShortName,
		Topic:         DefaultTopic,
		NoDocsText:    DefaultNoDocsText,
		NoAnswerReply: DefaultNoAnswerReply,
		FallbackReply: DefaultFallbackReply,
	}
}

// LoadFromFile 读取 JSON 档案，未填写的字段使用默认值
func LoadFromFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	p.fillDefaults()
	return p, nil
}

func (p *Persona) fillDefaults() {
	d := Default()
	set := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	set(&p.CompanyName, d.CompanyName)
	set(&p.Topic, d.Topic)
	set(&p.NoDocsText, d.NoDocsText)
	set(&p.NoAnswerReply, d.NoAnswerReply)
	set(&p.FallbackReply, d.FallbackReply)
}

// DisplayName 公司全称，有简称时附带简称
func (p *Persona) DisplayName() string {
	if p.ShortName == "" {
		return p.CompanyName
	}
	return p.CompanyName + " hay " + p.ShortName
}
