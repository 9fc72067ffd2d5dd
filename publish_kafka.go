package match

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/0x5487/manifest-engine/protocol"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublishLog writes every log to a Kafka topic, keyed by account so the
// logs of one market stay ordered within a partition.
type KafkaPublishLog struct {
	writer     messageWriter
	serializer protocol.Serializer
	timeout    time.Duration
}

// NewKafkaPublishLog creates a synchronous producer for topic.
func NewKafkaPublishLog(brokers []string, topic string) *KafkaPublishLog {
	return newKafkaPublishLog(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func newKafkaPublishLog(w messageWriter) *KafkaPublishLog {
	return &KafkaPublishLog{
		writer:     w,
		serializer: &protocol.DefaultJSONSerializer{},
		timeout:    5 * time.Second,
	}
}

// Publish encodes and writes logs before returning. Failures are logged;
// the logs have already been committed to the accounts.
func (k *KafkaPublishLog) Publish(logs ...*MarketLog) {
	if len(logs) == 0 {
		return
	}
	msgs := make([]kafka.Message, 0, len(logs))
	for _, log := range logs {
		value, err := k.serializer.Marshal(log)
		if err != nil {
			logger.Error("failed to encode log", "type", log.Type, "seq_id", log.SequenceID, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   log.Account.Bytes(),
			Value: value,
			Time:  log.CreatedAt,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		logger.Error("failed to publish logs", "count", len(msgs), "error", err)
	}
}

// Close flushes and closes the producer.
func (k *KafkaPublishLog) Close() error {
	return k.writer.Close()
}
