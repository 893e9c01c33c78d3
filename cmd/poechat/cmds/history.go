package cmds

import (
	"context"
	"os"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazedcmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/poechat/pkg/persistence/chatstore"
)

type HistoryCommand struct {
	*glazedcmds.CommandDescription
	app *App
}

type HistorySettings struct {
	ChatID int    `glazed:"chat-id"`
	Bot    string `glazed:"bot"`
	Limit  int    `glazed:"limit"`
}

func NewHistoryCommand(app *App) (*HistoryCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := glazedcmds.NewCommandDescription(
		"history",
		glazedcmds.WithShort("Show recorded conversations, or the transcript of one"),
		glazedcmds.WithLong("Without --chat-id, list the conversations in the local transcript store. With --chat-id, list that conversation's messages oldest first."),
		glazedcmds.WithFlags(
			fields.New(
				"chat-id",
				fields.TypeInteger,
				fields.WithDefault(0),
				fields.WithHelp("Conversation to show (0 = list conversations)"),
			),
			fields.New(
				"bot",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only show messages exchanged with this bot"),
			),
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(50),
				fields.WithHelp("Maximum number of rows"),
			),
		),
		glazedcmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &HistoryCommand{CommandDescription: desc, app: app}, nil
}

func (c *HistoryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistorySettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := c.app.Config()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Transcript.Path); err != nil {
		return errors.Wrapf(err, "no transcript database at %s (enable transcript in the config)", cfg.Transcript.Path)
	}
	store, err := openTranscriptStore(cfg.Transcript.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return historyRows(ctx, store, s, func(row types.Row) error {
		return gp.AddRow(ctx, row)
	})
}

func historyRows(ctx context.Context, store chatstore.TranscriptStore, s *HistorySettings, emit func(types.Row) error) error {
	if s.ChatID == 0 {
		convs, err := store.Conversations(ctx, s.Limit)
		if err != nil {
			return err
		}
		for _, c := range convs {
			if s.Bot != "" && c.Bot != s.Bot {
				continue
			}
			if err := emit(conversationRow(c)); err != nil {
				return err
			}
		}
		return nil
	}

	entries, err := store.List(ctx, chatstore.TranscriptQuery{
		ConversationID: int64(s.ChatID),
		Bot:            s.Bot,
		Limit:          s.Limit,
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := emit(transcriptRow(e)); err != nil {
			return err
		}
	}
	return nil
}

func conversationRow(c chatstore.ConversationSummary) types.Row {
	return types.NewRow(
		types.MRP("conversation_id", c.ConversationID),
		types.MRP("bot", c.Bot),
		types.MRP("chat_code", c.ChatCode),
		types.MRP("messages", c.Messages),
		types.MRP("last_activity", formatMs(c.LastActivityMs)),
	)
}

func transcriptRow(e chatstore.TranscriptEntry) types.Row {
	who := string(e.Role)
	if e.Role == chatstore.RoleBot && e.Bot != "" {
		who = e.Bot
	}
	return types.NewRow(
		types.MRP("time", formatMs(e.CreatedAtMs)),
		types.MRP("from", who),
		types.MRP("state", e.State),
		types.MRP("text", e.Text),
	)
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).Format(time.DateTime)
}

var _ glazedcmds.GlazeCommand = &HistoryCommand{}
