package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/pkg/message"
)

// HeaderMessageName carries the envelope name so consumers can route
// without decoding the value.
const HeaderMessageName = "message_name"

// Producer publishes envelopes to the topic derived from their name,
// keyed by correlation id so an exchange stays on one partition.
type Producer struct {
	producer    sarama.SyncProducer
	topicPrefix string
	logger      *logging.Logger
}

// NewProducer connects a synchronous producer to the configured brokers.
func NewProducer(cfg config.KafkaConfig, logger *logging.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V2_8_0_0

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return NewProducerWithClient(sp, cfg.TopicPrefix, logger), nil
}

// NewProducerWithClient wraps an existing SyncProducer.
func NewProducerWithClient(sp sarama.SyncProducer, topicPrefix string, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Producer{
		producer:    sp,
		topicPrefix: topicPrefix,
		logger:      logger.Component("producer"),
	}
}

// Publish sends env and returns once the brokers acknowledge it.
func (p *Producer) Publish(ctx context.Context, env message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.Name() == "" {
		return fmt.Errorf("cannot publish an unnamed envelope")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope %s: %w", env.MessageID(), err)
	}

	topic := TopicName(p.topicPrefix, env.Name())
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.CorrelationID()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderMessageName), Value: []byte(env.Name())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debugw("Published message",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"correlation_id", env.CorrelationID())
	return nil
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
