package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liao/culture-bot/internal/bot"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to NapCat and answer QQ messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			b := bot.New(cfg.Bot, cfg.NapCat, a.assistant, a.persona)

			// 优雅关闭
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig
				slog.Info("shutting down...")
				b.Stop()
				cancel()

				closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				a.Close(closeCtx)
				os.Exit(0)
			}()

			b.Run(ctx)
			return nil
		},
	}
}
