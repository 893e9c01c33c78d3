package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/poechat/pkg/client"
	"github.com/go-go-golems/poechat/pkg/types"
)

func NewChatCommand(app *App) *cobra.Command {
	var (
		send client.SendOptions
		ro   ReplyOptions
	)
	cmd := &cobra.Command{
		Use:   "chat <bot>",
		Short: "Chat with a bot interactively, keeping one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := app.Config()
			if err != nil {
				return err
			}
			c, cleanup, err := app.NewClient(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ui := &input.UI{
				Writer: os.Stderr,
				Reader: cmd.InOrStdin(),
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(os.Stderr, "Chatting with %s. Type /quit to exit.\n", args[0])
			for {
				text, err := ui.Ask("you", &input.Options{
					Required:  true,
					Loop:      true,
					HideOrder: true,
				})
				if err != nil {
					if errors.Is(err, input.ErrInterrupted) {
						return nil
					}
					return errors.Wrap(err, "failed to get user input")
				}
				text = strings.TrimSpace(text)
				if text == "/quit" || text == "/exit" {
					return nil
				}

				last, err := streamReply(ctx, c, out, args[0], text, send, ro)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					if errors.Is(err, types.ErrSendRejected) || errors.Is(err, types.ErrStaleStream) {
						log.Warn().Err(err).Msg("turn failed, try again")
						continue
					}
					return err
				}
				// Later turns continue the same conversation.
				if last.ConversationID != 0 {
					send.ChatID = last.ConversationID
				}
				if last.ChatCode != "" {
					send.ChatCode = last.ChatCode
				}
				send.Attachments = nil
			}
		},
	}
	cmd.Flags().Int64Var(&send.ChatID, "chat-id", 0, "Continue an existing conversation by id")
	cmd.Flags().StringVar(&send.ChatCode, "chat-code", "", "Continue an existing conversation by code")
	cmd.Flags().BoolVar(&send.SuggestReplies, "suggest", false, "Ask the bot for suggested replies")
	cmd.Flags().BoolVar(&ro.Render, "render", false, "Render each reply as markdown")
	return cmd
}
