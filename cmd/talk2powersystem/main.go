package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statnett/talk2powersystem/cmd/talk2powersystem/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "talk2powersystem",
	Short: "Talk2PowerSystem chat API over the power grid knowledge graph",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitLoggerFromCobra(cmd); err != nil {
			return err
		}
		// zerolog.Ctx falls back to the global logger for contexts without one
		zerolog.DefaultContextLogger = &log.Logger
		return nil
	},
}

func main() {
	if err := clay.InitGlazed("talk2powersystem", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	serve, err := cmds.NewServeCommand()
	cobra.CheckErr(err)
	serveCmd, err := cli.BuildCobraCommand(serve, cli.WithCobraMiddlewaresFunc(cmds.CommandMiddlewares))
	cobra.CheckErr(err)
	rootCmd.AddCommand(serveCmd)

	cobra.CheckErr(cmds.AddConversationsCommands(rootCmd))

	cobra.CheckErr(rootCmd.Execute())
}
