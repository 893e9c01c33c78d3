package cmds

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/poechat/pkg/client"
)

func NewSendCommand(app *App) *cobra.Command {
	var (
		send client.SendOptions
		ro   ReplyOptions
		af   attachFlags
	)
	cmd := &cobra.Command{
		Use:   "send <bot> <message...>",
		Short: "Send a message to a bot and stream the reply",
		Args:  cobra.MinimumNArgs(2),
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

			send.Attachments, err = af.collect(send.Attachments)
			if err != nil {
				return err
			}
			_, err = streamReply(ctx, c, cmd.OutOrStdout(), args[0], strings.Join(args[1:], " "), send, ro)
			return err
		},
	}
	cmd.Flags().Int64Var(&send.ChatID, "chat-id", 0, "Continue an existing conversation by id")
	cmd.Flags().StringVar(&send.ChatCode, "chat-code", "", "Continue an existing conversation by code")
	cmd.Flags().BoolVar(&send.SuggestReplies, "suggest", false, "Ask the bot for suggested replies")
	cmd.Flags().StringSliceVar(&send.Attachments, "attach", nil, "Attach a file or every file in a directory")
	af.addFlags(cmd)
	cmd.Flags().BoolVar(&ro.Render, "render", false, "Render the final reply as markdown")
	cmd.Flags().BoolVar(&ro.Copy, "copy", false, "Copy the final reply to the clipboard")
	cmd.Flags().BoolVar(&ro.Stats, "stats", false, "Print reply statistics to stderr")
	return cmd
}
