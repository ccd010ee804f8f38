package commands

import (

	"github.com/dyluth/gateway/internal/inspect"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/spf13/cobra"
)

var inspectOutputFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect <correlation_id>",
	Short: "Show the stored state of one request",
	Long: `Inspect reads the request marker and response record for a correlation id
without waiting, and reports whether the exchange is pending or resolved.`,
	Example: `  gateway inspect 3f1c2a4e-8a7b-4c2d-9e1f-0a1b2c3d4e5f
  gateway inspect -o json 3f1c2a4e-8a7b-4c2d-9e1f-0a1b2c3d4e5f | jq .reply.content`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutputFormat, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(inspectOutputFormat); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, backend, err := connectStore(ctx, cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer backend.Close()

	ex, err := inspect.GetExchange(ctx, store, args[0])
	if err != nil {
		if inspect.IsNotFound(err) {
			return printer.ErrorWithContext("Request not found", "Never submitted, or both records have expired.",
				[]printer.Field{{Label: "Correlation ID", Value: args[0]}}, nil)
		}
		return printer.Error("Cannot inspect request", err.Error(), nil)
	}

	if inspectOutputFormat == "json" {
		return inspect.FormatJSON(printer.Out, ex)
	}
	inspect.FormatDefault(printer.Out, ex)
	return nil
}
