package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payment-sync-service/models"
)

// PaymentEventProducer publishes accepted state transitions to Kafka.
// Messages are keyed by idempotency key so every event for one payment lands
// on the same partition, in order.
type PaymentEventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	logger.Info("Payment event producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
	)
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

// Publish implements pipeline.EventPublisher.
func (p *PaymentEventProducer) Publish(ctx context.Context, event models.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.IdempotencyKey),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
		return err
	}

	p.logger.Info("Published payment event",
		zap.String("event_type", event.Type),
		zap.String("payment_id", event.PaymentID),
		zap.String("status", string(event.Status)),
	)
	return nil
}

func (p *PaymentEventProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Failed to close Kafka producer", zap.Error(err))
	}
}
