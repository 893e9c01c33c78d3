package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazedcmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/poechat/pkg/channel"
)

type SettingsCommand struct {
	*glazedcmds.CommandDescription
	app *App
}

func NewSettingsCommand(app *App) (*SettingsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := glazedcmds.NewCommandDescription(
		"settings",
		glazedcmds.WithShort("Fetch the push channel routing metadata and print the channel URL"),
		glazedcmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &SettingsCommand{CommandDescription: desc, app: app}, nil
}

func (c *SettingsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	cfg, err := c.app.Config()
	if err != nil {
		return err
	}
	cl, cleanup, err := c.app.NewClient(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := cl.ChannelSettings(ctx)
	if err != nil {
		return err
	}
	u, err := s.URL(cl.ChannelURLOptions())
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, settingsRow(s, u))
}

func settingsRow(s channel.Settings, url string) types.Row {
	return types.NewRow(
		types.MRP("base_host", s.BaseHost),
		types.MRP("box_name", s.BoxName),
		types.MRP("min_seq", s.MinSeq),
		types.MRP("channel", s.Channel),
		types.MRP("channel_hash", s.ChannelHash),
		types.MRP("url", url),
	)
}

var _ glazedcmds.GlazeCommand = &SettingsCommand{}
