// Package publisher fans sealed audit entries out to Kafka for downstream
// consumers. Publishing is best effort; the store stays the source of truth.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/domain/types"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer messageWriter
}

func New(w messageWriter) *KafkaPublisher { return &KafkaPublisher{writer: w} }

// NewWriter builds a synchronous writer so Publish reports delivery
// failures to the recorder.
func NewWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

var _ ports.Publisher = (*KafkaPublisher)(nil)

// Publish keys messages by entity so one entity's history stays ordered
// within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e types.Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("publisher: encode %s: %w", e.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.EntityType + ":" + e.EntityID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
			{Key: "sequence", Value: []byte(fmt.Sprint(e.Sequence))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publisher: write %s: %w", e.ID, err)
	}
	return nil
}
