//go:build integration

// Package testutil starts the Redis and Kafka containers used by the
// integration tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	RedisImage = "redis:7-alpine"
	KafkaImage = "confluentinc/confluent-local:7.5.0"
)

var redisPort = nat.Port("6379/tcp")

// SetupRedis starts a Redis container and returns its redis:// URL. The
// container is terminated when the test ends.
func SetupRedis(t *testing.T, ctx context.Context) string {
	t.Helper()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{string(redisPort)},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	port, err := redisC.MappedPort(ctx, redisPort)
	require.NoError(t, err, "Failed to get container port")

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// SetupKafka starts a single-node Kafka and returns its bootstrap address.
func SetupKafka(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := tcKafka.RunContainer(ctx,
		testcontainers.WithImage(KafkaImage),
		tcKafka.WithClusterID("gateway-test"),
	)
	require.NoError(t, err, "Failed to start Kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "Failed to get bootstrap servers")
	return brokers[0]
}

// CreateTopics creates each topic with three partitions, ignoring topics
// that already exist.
func CreateTopics(t *testing.T, broker string, topics ...string) {
	t.Helper()

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	admin, err := sarama.NewClusterAdmin([]string{broker}, sc)
	require.NoError(t, err)
	defer admin.Close()

	for _, topic := range topics {
		err := admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 3, ReplicationFactor: 1}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			require.NoError(t, err, "Failed to create topic %s", topic)
		}
	}
}
