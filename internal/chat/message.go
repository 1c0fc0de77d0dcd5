package chat

import "time"

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 会话中的一条消息，创建后不可变
type Message struct {
	ID        string    `json:"id" bson:"id"`
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	// Seq 是消息在会话中的位置，由存储在读取时填充
	Seq int `json:"-" bson:"-"`
}

func Human(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Valid 检查角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
