package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/dyluth/gateway/internal/timespec"
	"github.com/dyluth/gateway/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchLimit        int
	watchFor          string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream replies as workers deliver them",
	Long: `Watch subscribes to the reply notifications in Redis and prints each reply
as the sink stores it. Replies stored before watch started are not shown.`,
	Example: `  gateway watch
  gateway watch --for 30s --limit 10
  gateway watch --output=jsonl > replies.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	watchCmd.Flags().IntVar(&watchLimit, "limit", 0, "stop after this many replies (0 = no limit)")
	watchCmd.Flags().StringVar(&watchFor, "for", "", "stop after a duration (e.g. 30s) or at an RFC3339 time")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "jsonl":
		format = watch.OutputFormatJSONL
	default:
		return printer.Error(fmt.Sprintf("Invalid output format: %s", watchOutputFormat), "",
			[]string{"Use --output default or --output jsonl"})
	}

	until, err := timespec.Deadline(watchFor, time.Now())
	if err != nil {
		return printer.Error("Invalid --for", err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	_, backend, err := connectStore(ctx, cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer backend.Close()

	n, err := watch.StreamReplies(ctx, backend, watch.Options{
		ResponsePrefix: cfg.Request.Response.Cache.Prefix,
		Format:         format,
		Limit:          watchLimit,
		Until:          until,
		OnReady: func() {
			if format == watch.OutputFormatDefault {
				printer.Info("Watching replies under %s*\n", cfg.Request.Response.Cache.Prefix)
			}
		},
	}, printer.Out)
	if err != nil {
		return printer.Error("Watch failed", err.Error(), nil)
	}

	if format == watch.OutputFormatDefault {
		printer.Info("%d %s\n", n, plural(n, "reply", "replies"))
	}
	return nil
}
