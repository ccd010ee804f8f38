//go:build integration

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/internal/sink"
	"github.com/dyluth/gateway/internal/testutil"
	"github.com/dyluth/gateway/pkg/message"
	"github.com/stretchr/testify/require"
)

func TestProducerConsumerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger, err := logging.NewDevelopmentLogger()
	require.NoError(t, err)

	broker := testutil.SetupKafka(t, ctx)
	cfg := testKafkaConfig([]string{broker})
	topic := TopicName(cfg.TopicPrefix, "Gateway.Response")
	testutil.CreateTopics(t, broker, topic)

	received := make(chan message.Envelope, 1)
	registry := sink.NewRegistry(logger)
	registry.Register("Gateway.Response", sink.HandlerFunc(func(ctx context.Context, env message.Envelope) error {
		received <- env
		return nil
	}))

	consumer, err := NewConsumer(cfg, []string{topic}, registry, logger)
	require.NoError(t, err)
	defer consumer.Close()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Start(consumeCtx) }()

	producer, err := NewProducer(cfg, logger)
	require.NoError(t, err)
	defer producer.Close()

	req := message.New("Gateway.Request", []byte(`{}`))
	reply := req.Reply("Gateway.Response", []byte(`{"status":201,"content":{"id":7}}`))
	require.NoError(t, producer.Publish(ctx, reply))

	select {
	case got := <-received:
		require.Equal(t, reply.MessageID(), got.MessageID())
		require.Equal(t, req.CorrelationID(), got.CorrelationID())
	case <-time.After(60 * time.Second):
		t.Fatal("reply was not consumed")
	}
}
