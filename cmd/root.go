// Package cmd is the kooler-agent command line.
package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/Champsson/Kooler-Agent/pkg/config"
	logx "github.com/Champsson/Kooler-Agent/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "kooler-agent",
	Short:         "Weggy, the Kooler Garage Doors voice and SMS assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configx.SetEnvFile(envFile)
		// Re-read LOG_* now that the env file is known.
		if conf, err := configx.New[logx.Config]("LOG"); err == nil {
			logx.Init(*conf)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading configuration")
	rootCmd.AddCommand(serveCmd, ingestCmd, assistantCmd, greetingCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
