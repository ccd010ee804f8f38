package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/pkg/message"
)

// Dispatcher receives each decoded envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, env message.Envelope) error
}

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 200 * time.Millisecond
)

// Consumer reads envelopes from a set of topics as part of a consumer
// group and hands each one to a Dispatcher.
type Consumer struct {
	client sarama.ConsumerGroup
	topics []string
	group  string
	logger *logging.Logger

	handler *groupHandler
}

// NewConsumer joins the configured consumer group for topics.
func NewConsumer(cfg config.KafkaConfig, topics []string, d Dispatcher, logger *logging.Logger) (*Consumer, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	sc.Version = sarama.V2_8_0_0

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log := logger.Component("consumer").WithField("group", cfg.ConsumerGroup)
	return &Consumer{
		client:  client,
		topics:  topics,
		group:   cfg.ConsumerGroup,
		logger:  log,
		handler: newGroupHandler(d, log),
	}, nil
}

// Start consumes until ctx is cancelled. A session ends on every
// rebalance, so Consume is called in a loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Infow("Starting consumer", "topics", c.topics)

	for {
		if err := c.client.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			c.logger.Errorw("Error from consumer", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}

		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping consumer")
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	c.logger.Info("Closing consumer")
	return c.client.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	dispatcher Dispatcher
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration
}

func newGroupHandler(d Dispatcher, logger *logging.Logger) *groupHandler {
	return &groupHandler{
		dispatcher: d,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Debug("Consumer group setup complete")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Debug("Consumer group cleanup complete")
	return nil
}

// ConsumeClaim processes one partition. A message that still fails after
// maxRetries is marked anyway so the partition keeps moving.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	// ConsumeClaim already runs in its own goroutine; do not spawn another.
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.process(ctx, msg) {
				session.MarkMessage(msg, "")
			}
		}
	}
}

// process reports whether msg is finished with, successfully or not. It
// returns false only when the session ends first.
func (h *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	log := h.logger.WithFields(map[string]interface{}{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	env, err := message.Decode(msg.Value)
	if err != nil {
		log.Warnw("Skipping undecodable message", "error", err)
		return true
	}
	log = log.WithField("correlation_id", env.CorrelationID())

	for attempt := 1; ; attempt++ {
		err := h.dispatcher.Dispatch(ctx, env)
		if err == nil {
			log.Debugw("Processed message", "name", env.Name())
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt > h.maxRetries {
			log.Errorw("Max retries reached for message, skipping", "error", err, "attempts", attempt)
			return true
		}

		log.Warnw("Error processing message", "attempt", attempt, "max_retries", h.maxRetries, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff * time.Duration(attempt)):
		}
	}
}
