package commands

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/gateway/internal/bus"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/dyluth/gateway/internal/scaffold"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the effective values",
	Long: `Check loads the configuration file (if any), applies environment overrides
and validates the result without connecting to Redis or Kafka.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

var (
	configInitDir   string
	configInitForce bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter gateway.yml",
	Long: `Init writes a gateway.yml holding every option at its default value.
It refuses to overwrite an existing file unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&configInitDir, "dir", ".", "directory to write gateway.yml into")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing gateway.yml")
	configCmd.AddCommand(configCheckCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := cfg.Request
	printer.Fields("Configuration", []printer.Field{
		{Label: "Redis", Value: cfg.Redis.URL},
		{Label: "Kafka brokers", Value: strings.Join(cfg.Kafka.Brokers, ",")},
		{Label: "Request topic", Value: bus.TopicName(cfg.Kafka.TopicPrefix, req.Message.Name)},
		{Label: "Response topic", Value: bus.TopicName(cfg.Kafka.TopicPrefix, req.Response.Message.Name)},
		{Label: "HTTP", Value: cfg.HTTP.Addr + cfg.HTTP.Prefix},
		{Label: "Wait by default", Value: cfg.ResponseEnabled()},
		{Label: "Wait (default/max)", Value: formatSeconds(req.Response.TimeoutSec) + "/" + formatSeconds(req.Response.TimeoutMaxSec)},
		{Label: "Wait parameter", Value: req.Response.TimeoutParamName},
		{Label: "Request TTL", Value: cfg.RequestTTL()},
		{Label: "Response TTL", Value: cfg.ResponseTTL()},
		{Label: "Uploads", Value: cfg.StorageDirectory() + " (" + req.Files.HashAlgorithm + ")"},
	})
	printer.Success("Configuration is valid\n")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if configInitForce {
		if err := scaffold.CheckExisting(configInitDir); err != nil {
			printer.Warning("Overwriting %s\n", filepath.Join(configInitDir, scaffold.ConfigFile))
		}
	}

	path, err := scaffold.Initialize(configInitDir, configInitForce)
	if err != nil {
		return printer.Error("Cannot initialize configuration", err.Error(), nil)
	}

	printer.Success("Created %s\n", path)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Point redis.url and kafka.brokers at your services\n")
	printer.Info("  2. Run 'gateway config check --config %s'\n", path)
	printer.Info("  3. Run 'gateway serve --with-sink --config %s'\n", path)
	return nil
}

func formatSeconds(n int) string {
	return (time.Duration(n) * time.Second).String()
}
