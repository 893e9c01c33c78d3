package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	tiktoken "github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/poechat/pkg/client"
	"github.com/go-go-golems/poechat/pkg/types"
)

// ReplyOptions controls how a streamed reply is shown.
type ReplyOptions struct {
	// Render buffers the reply and renders it as markdown once complete. It only
	// applies when stdout is a terminal.
	Render bool
	Copy   bool
	Stats  bool
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// streamReply sends text and writes the reply to w as it arrives. It returns the
// last chunk received.
func streamReply(ctx context.Context, c *client.Client, w io.Writer, bot, text string, send client.SendOptions, ro ReplyOptions) (types.Chunk, error) {
	s, err := c.SendMessage(ctx, bot, text, send)
	if err != nil {
		return types.Chunk{}, err
	}
	render := ro.Render && stdoutIsTerminal()

	var last types.Chunk
	for chunk, err := range s.All(ctx) {
		if err != nil {
			if !render {
				_, _ = fmt.Fprintln(w)
			}
			return last, err
		}
		last = chunk
		if !render {
			_, _ = io.WriteString(w, chunk.DeltaText)
		}
	}

	if render {
		styled, err := glamour.Render(last.FullText, "dark")
		if err != nil {
			log.Warn().Err(err).Msg("markdown render failed, printing plain text")
			styled = last.FullText + "\n"
		}
		_, _ = io.WriteString(w, styled)
	} else {
		_, _ = fmt.Fprintln(w)
	}
	if len(last.SuggestedReplies) > 0 {
		_, _ = fmt.Fprintf(w, "\nSuggested replies:\n")
		for i, r := range last.SuggestedReplies {
			_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, r)
		}
	}

	if ro.Copy {
		if err := clipboard.WriteAll(last.FullText); err != nil {
			return last, errors.Wrap(err, "error copying to clipboard")
		}
	}
	if ro.Stats {
		printStats(os.Stderr, last)
	}
	return last, nil
}

func printStats(w io.Writer, last types.Chunk) {
	tokenCounter, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		_, _ = fmt.Fprintf(w, "Error initializing token counter: %v\n", err)
		return
	}
	tokens := tokenCounter.Encode(last.FullText, nil, nil)

	_, _ = fmt.Fprintf(w, "Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Conversation: %d (%s)\n", last.ConversationID, last.ChatCode)
	_, _ = fmt.Fprintf(w, "  State:  %s\n", last.State)
	_, _ = fmt.Fprintf(w, "  Tokens: %d\n", len(tokens))
	_, _ = fmt.Fprintf(w, "  Lines:  %d\n", strings.Count(last.FullText, "\n")+1)
	_, _ = fmt.Fprintf(w, "  Size:   %d bytes\n", len(last.FullText))
}
