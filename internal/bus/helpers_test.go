package bus

import "github.com/dyluth/gateway/internal/config"

func testKafkaConfig(brokers []string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:       brokers,
		ConsumerGroup: "gateway-test",
	}
}
