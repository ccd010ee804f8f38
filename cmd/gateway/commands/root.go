package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Gateway - synchronous HTTP over an asynchronous message bus",
	Long: `Gateway accepts HTTP requests, publishes them to Kafka and answers with
the worker's reply once it lands in Redis, or with a correlation id the
caller can poll.

Run "gateway serve" for the HTTP side and "gateway sink" to move replies
from Kafka into Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// Errors are printed by the printer package; cobra stays quiet
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to gateway.yml (environment variables override it)")
}
