package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/assistant"
	"github.com/liao/culture-bot/internal/config"
	"github.com/liao/culture-bot/internal/persona"
)

// 多条消息之间的发送间隔
const partInterval = 400 * time.Millisecond

// Responder 回答一个会话中的问题
type Responder interface {
	Respond(ctx context.Context, question, sessionID string) (string, error)
}

type Bot struct {
	cfg       config.BotConfig
	napcat    config.NapCatConfig
	responder Responder
	persona   *persona.Persona
	cancel    context.CancelFunc
}

func New(cfg config.BotConfig, napcat config.NapCatConfig, responder Responder, p *persona.Persona) *Bot {
	if p == nil {
		p = persona.Default()
	}
	return &Bot{
		cfg:       cfg,
		napcat:    napcat,
		responder: responder,
		persona:   p,
	}
}

// Run 连接 OneBot 并阻塞处理消息
func (b *Bot) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	ws := driver.NewWebSocketClient(
		b.napcat.WSURL,
		b.napcat.AccessToken,
	)

	// 私聊
	zero.OnMessage(zero.OnlyPrivate).Handle(func(zctx *zero.Ctx) {
		b.handleMessage(ctx, zctx)
	})

	// 群聊只响应 @ 机器人的消息
	zero.OnMessage(zero.OnlyGroup, zero.OnlyToMe, b.groupFilter()).Handle(func(zctx *zero.Ctx) {
		b.handleMessage(ctx, zctx)
	})

	// 管理命令：超级用户发 /status 查看状态
	zero.OnCommand("status", zero.SuperUserPermission).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(fmt.Sprintf("%s chatbot running", b.persona.ShortName)))
	})

	slog.Info("bot starting",
		"ws_url", b.napcat.WSURL,
		"groups", len(b.cfg.Groups),
	)

	zero.RunAndBlock(&zero.Config{
		NickName:   b.cfg.NickName,
		SuperUsers: b.cfg.SuperUsers,
		Driver:     []zero.Driver{ws},
	}, nil)
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bot) handleMessage(ctx context.Context, zctx *zero.Ctx) {
	question := strings.TrimSpace(zctx.ExtractPlainText())
	if question == "" {
		return // 跳过纯表情/图片等非文本消息
	}
	session := SessionID(zctx.Event.UserID, zctx.Event.GroupID)
	slog.Info("received message", "session", session, "text", question)

	for i, part := range b.Answer(ctx, question, session) {
		if i > 0 {
			time.Sleep(partInterval)
		}
		zctx.Send(message.Text(part))
	}
}

// Answer 调用问答并把回复切成适合 QQ 发送的若干条，出错时返回兜底回复
func (b *Bot) Answer(ctx context.Context, question, session string) []string {
	reply, err := b.responder.Respond(ctx, question, session)
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrInvalidRequest):
			return nil
		case errors.Is(err, assistant.ErrHistoryUnavailable), errors.Is(err, assistant.ErrGeneration):
			slog.Error("respond failed, sending fallback", "session", session, "error", err)
		default:
			slog.Error("respond failed with unexpected error", "session", session, "error", err)
		}
		return []string{b.persona.FallbackReply}
	}
	return ai.SplitReply(reply, b.cfg.MaxReplyRunes)
}

// SessionID 私聊按用户区分会话，群聊按群和用户区分
func SessionID(userID, groupID int64) string {
	if groupID != 0 {
		return fmt.Sprintf("qq:group:%d:%d", groupID, userID)
	}
	return fmt.Sprintf("qq:%d", userID)
}

func (b *Bot) groupFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		return slices.Contains(b.cfg.Groups, ctx.Event.GroupID)
	}
}
