package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit entries to a Kafka topic. Messages are
// keyed by chat JID so one conversation's trail stays in partition
// order.
type KafkaSink struct {
	writer  kafkaWriter
	timeout time.Duration
}

// NewKafkaSink creates a sink producing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, timeout time.Duration) *KafkaSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaSink{writer: w, timeout: timeout}
}

// Append produces one entry, retrying briefly on leader movement.
func (k *KafkaSink) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.ChatJID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(e.Status)},
			{Key: "trace_id", Value: []byte(e.TraceID)},
		},
		Time: e.At,
	}

	var writeErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		writeCtx, writeCancel := context.WithTimeout(ctx, k.timeout)
		writeErr = k.writer.WriteMessages(writeCtx, msg)
		writeCancel()
		if writeErr == nil {
			return nil
		}
		if errors.Is(writeErr, kafka.NotLeaderForPartition) || errors.Is(writeErr, kafka.LeaderNotAvailable) {
			continue
		}
		break
	}
	return fmt.Errorf("kafka append: %w", writeErr)
}

func (k *KafkaSink) Close() error { return k.writer.Close() }
