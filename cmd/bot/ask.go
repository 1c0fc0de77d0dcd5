package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		session string
		stream  bool
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question from the terminal",
		Long: `Ask answers one question with the same pipeline as the chat bot.
Pass --session to continue an earlier conversation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")
			if session == "" {
				session = "cli:" + uuid.NewString()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()

			out := cmd.OutOrStdout()
			if stream {
				for part, err := range a.assistant.RespondStream(ctx, question, session) {
					if err != nil {
						fmt.Fprintln(out)
						return err
					}
					fmt.Fprint(out, part)
				}
				fmt.Fprintln(out)
				slog.Debug("answered", "session", session)
				return nil
			}

			answer, err := a.assistant.Respond(ctx, question, session)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(out, answer)
				return nil
			}
			rendered, err := glamour.Render(answer, "auto")
			if err != nil {
				slog.Debug("render markdown failed, printing raw", "error", err)
				rendered = answer + "\n"
			}
			fmt.Fprint(out, rendered)
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", session)
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id to continue (default: new session)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the answer without markdown rendering")
	return cmd
}
