// Package logger 把 slog 默认 logger 接到 charmbracelet/log 或 JSON 输出上
package logger

import (
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liao/culture-bot/internal/config"
)

// New 按配置创建 logger；format 为 json 时输出结构化 JSON，便于日志采集
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)}))
	}
	return slog.New(log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	}))
}

// Setup 创建 logger 并设为 slog 默认
func Setup(w io.Writer, cfg config.LogConfig) *slog.Logger {
	l := New(w, cfg)
	slog.SetDefault(l)
	return l
}

func parseLevel(s string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func slogLevel(l log.Level) slog.Level {
	switch {
	case l <= log.DebugLevel:
		return slog.LevelDebug
	case l <= log.InfoLevel:
		return slog.LevelInfo
	case l <= log.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
