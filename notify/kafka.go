/*
Package notify publishes resource notifications to kafka. The notifier is
fire and forget: a broker hiccup is logged and never fails the request that
triggered the notification.
*/
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chandankrroy/erino-backend/core"
	"github.com/chandankrroy/erino-backend/core/logger"
)

const writeTimeout = 10 * time.Second

// KafkaNotifier implements core.Notifier on a kafka topic. Messages are
// keyed by resource and operation, e.g. "lead.create".
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier publishing to the given topic on the
// given brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Notify publishes the payload. Errors are logged, not returned.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot publish %s notification for %s", operation, resource)
	}
}

// Close closes the underlying kafka writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
