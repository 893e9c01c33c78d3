package main

import (
	"os"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/poechat/cmd/poechat/cmds"
)

func main() {
	app := &cmds.App{}
	rootCmd := &cobra.Command{
		Use:   "poechat",
		Short: "poechat streams chat replies over the service's push channel",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reinitialize the logger now that --log-level and --log-format are parsed
			return cmds.InitLogger(app.LogLevel, app.LogFormat)
		},
		SilenceUsage: true,
	}
	app.AddPersistentFlags(rootCmd)

	settingsCmd, err := cmds.NewSettingsCommand(app)
	cobra.CheckErr(err)
	historyCmd, err := cmds.NewHistoryCommand(app)
	cobra.CheckErr(err)
	cobraSettingsCmd, err := cli.BuildCobraCommand(settingsCmd)
	cobra.CheckErr(err)
	cobraHistoryCmd, err := cli.BuildCobraCommand(historyCmd)
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewSendCommand(app),
		cmds.NewChatCommand(app),
		cobraSettingsCmd,
		cmds.NewEventsCommand(app),
		cobraHistoryCmd,
		cmds.NewTokensCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
