// Package bus moves envelopes over Kafka: a producer for requests and a
// consumer group that feeds replies to the sink.
package bus

import "strings"

// TopicName derives the Kafka topic carrying messages named name.
// Characters Kafka does not allow in topic names become underscores.
func TopicName(prefix, name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, prefix+name)
}
