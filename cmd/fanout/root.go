package main

import (
	"github.com/spf13/cobra"
)

var envFile string

// rootCmd serves the relay when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "fanout",
	Short:         "Websocket channel relay with a Redis pub/sub backplane",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd)
}
