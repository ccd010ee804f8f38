package commands

import (
	"github.com/dyluth/gateway/internal/bus"
	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/internal/printer"
	"github.com/dyluth/gateway/internal/sink"
	"github.com/spf13/cobra"
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Move worker replies from Kafka into Redis",
	Long: `Sink consumes the response topic and stores every reply in Redis under
its correlation id, waking any caller waiting on it.

The topic is the configured topic prefix followed by the response message
name (default "Gateway.Response").`,
	Args: cobra.NoArgs,
	RunE: runSink,
}

func init() {
	rootCmd.AddCommand(sinkCmd)
}

func runSink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	consumer, err := newReplyConsumer(cfg, store, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	printer.Success("Consuming %s\n", responseTopic(cfg))
	if err := consumer.Start(ctx); err != nil {
		return printer.Error("Consumer failed", err.Error(), nil)
	}

	printer.Info("Sink stopped\n")
	return nil
}

func responseTopic(cfg *config.Config) string {
	return bus.TopicName(cfg.Kafka.TopicPrefix, cfg.Request.Response.Message.Name)
}

// replyRegistry routes response messages to the reply sink.
func replyRegistry(cfg *config.Config, store *correlation.Store, logger *logging.Logger) *sink.Registry {
	registry := sink.NewRegistry(logger)
	registry.Register(cfg.Request.Response.Message.Name, sink.NewReplySink(store, cfg.ResponseTTL(), logger))
	return registry
}

func newReplyConsumer(cfg *config.Config, store *correlation.Store, logger *logging.Logger) (*bus.Consumer, error) {
	consumer, err := bus.NewConsumer(cfg.Kafka, []string{responseTopic(cfg)}, replyRegistry(cfg, store, logger), logger)
	if err != nil {
		return nil, printer.Error("Kafka not accessible", err.Error(),
			[]string{"Check KAFKA_BROKERS and that the brokers are reachable"})
	}
	return consumer, nil
}
