package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"epicurrents.dev/core/internal/config"
)

var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "epicurrents-corectl",
	Short: "Run or inspect an epicurrents core worker",
	Long:  `epicurrents-corectl serves the montage/data-service core over a websocket transport, or inspects a recording's decoded header.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, inspectCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	debug, _ := rootCmd.PersistentFlags().GetBool("debug")
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}
