// wscachectl is the command-line entry point for the workspace cache:
// a server mode serving the admin HTTP surface plus the tool protocol
// over stdio, and a handful of one-shot commands for operators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "wscachectl",
	Short:   "Local cache and search layer in front of a Slack-shaped workspace API",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (YAML/JSON/TOML, per spf13/viper)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(replCmd)
}
