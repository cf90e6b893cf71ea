// internal/respond/kafka.go
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
)

// KafkaEmitter publishes progress events to a Kafka topic keyed by trade id,
// so events for a single trade land on one partition and keep their order.
type KafkaEmitter struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaEmitter creates the worker-side producer.
func NewKafkaEmitter(brokers, topic string) (*KafkaEmitter, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaEmitter{producer: producer, topic: topic}, nil
}

// Emit publishes a single event.
func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error serializing response event: %w", err)
	}

	err = e.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &e.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.TxID),
		Value: payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("error publishing response event: %w", err)
	}

	return nil
}

// Close flushes outstanding events and releases the producer.
func (e *KafkaEmitter) Close() {
	e.producer.Flush(15 * 1000)
	e.producer.Close()
}

// KafkaReceiver consumes progress events on the gateway side and forwards
// them to a handler, typically the progress relay.
type KafkaReceiver struct {
	consumer *kafka.Consumer
	topic    string
	logger   *logging.Logger
}

// NewKafkaReceiver creates the gateway-side consumer.
func NewKafkaReceiver(brokers, topic, group string, logger *logging.Logger) (*KafkaReceiver, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          group,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &KafkaReceiver{consumer: consumer, topic: topic, logger: logger}, nil
}

// Run consumes events until ctx is cancelled, invoking handler for each one.
func (r *KafkaReceiver) Run(ctx context.Context, handler Handler) error {
	if err := r.consumer.SubscribeTopics([]string{r.topic}, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", r.topic, err)
	}

	r.logger.Info("Response consumer started", "topic", r.topic)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down response consumer")
			return r.consumer.Close()

		default:
			msg, err := r.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				r.logger.Error("Error reading response event", "error", err)
				continue
			}

			var event Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				r.logger.Error("Error deserializing response event", "error", err)
				continue
			}

			handler(event)
		}
	}
}
