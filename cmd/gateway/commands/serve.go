package commands

import (
	"context"
	"time"

	"github.com/dyluth/gateway/internal/blob"
	"github.com/dyluth/gateway/internal/bridge"
	"github.com/dyluth/gateway/internal/bus"
	"github.com/dyluth/gateway/internal/httpapi"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveWithSink bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP request side of the gateway",
	Long: `Serve accepts requests on the configured prefix, publishes them to Kafka
and waits for replies in Redis.

Routes:
  ANY  {prefix}/                    submit a request
  GET  {prefix}/{correlation_id}    fetch the reply to an earlier request
  GET  {prefix}/file/{hash}/{name}  download an uploaded file (?download forces attachment)
  GET  /healthz                     Redis connectivity

With --with-sink the reply consumer runs in the same process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.addr)")
	serveCmd.Flags().BoolVar(&serveWithSink, "with-sink", false, "also consume replies from Kafka")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	store, backend, err := connectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	producer, err := bus.NewProducer(cfg.Kafka, logger)
	if err != nil {
		return printer.Error("Kafka not accessible", err.Error(),
			[]string{"Check KAFKA_BROKERS and that the brokers are reachable"})
	}
	defer producer.Close()

	b, err := bridge.New(producer, store, bridge.OptionsFromConfig(*cfg, httpapi.LocationFor(cfg.HTTP.Prefix)), logger)
	if err != nil {
		return err
	}

	blobs, err := blob.NewStore(cfg.StorageDirectory(), cfg.Request.Files.HashAlgorithm)
	if err != nil {
		return printer.Error("Upload storage unavailable", err.Error(), nil)
	}

	errCh := make(chan error, 1)
	if serveWithSink {
		consumer, err := newReplyConsumer(cfg, store, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		go func() { errCh <- consumer.Start(ctx) }()
	}

	srv := httpapi.New(b, blobs, backend, httpapi.OptionsFromConfig(*cfg), logger)
	if err := srv.Start(); err != nil {
		return printer.Error("Cannot listen", err.Error(), []string{"Pick another address with --addr"})
	}
	printer.Success("Gateway listening on %s (prefix %q)\n", srv.Addr(), cfg.HTTP.Prefix)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Errorw("Reply consumer stopped", "error", err)
		}
	}

	// In-flight waits may run up to the maximum wait before they answer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Request.Response.TimeoutMaxSec)*time.Second+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown incomplete", "error", err)
	}

	printer.Info("Gateway stopped\n")
	return nil
}
