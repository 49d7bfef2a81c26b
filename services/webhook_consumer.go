package services

import (
	"context"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payment-sync-service/models"
	"payment-sync-service/pipeline"
)

// WebhookConsumer drains gateway webhook messages from Kafka and feeds them
// through the processing pipeline. Offsets are committed only after the
// pipeline acknowledges, so a crash mid-message redelivers it.
type WebhookConsumer struct {
	reader *kafkago.Reader
	dlq    *kafkago.Writer
	pipe   *pipeline.Pipeline
	logger *zap.Logger
	topic  string
}

func NewWebhookConsumer(brokers []string, topic, groupID, dlqTopic string, pipe *pipeline.Pipeline, logger *zap.Logger) *WebhookConsumer {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		logger.Fatal("Webhook consumer topic is empty")
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	var dlq *kafkago.Writer
	if dlqTopic != "" {
		dlq = &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Topic:    dlqTopic,
			Balancer: &kafkago.LeastBytes{},
		}
	}
	logger.Info("Webhook consumer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
	)
	return &WebhookConsumer{reader: r, dlq: dlq, pipe: pipe, logger: logger, topic: topic}
}

// Start consumes until ctx is cancelled.
func (c *WebhookConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting webhook consumer", zap.String("topic", c.topic))
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Error fetching webhook message", zap.Error(err))
			continue
		}

		if !c.handle(ctx, m) {
			// Shutdown interrupted the redrive loop; leave the offset
			// uncommitted so the message is redelivered.
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Warn("Failed to commit webhook offset", zap.Error(err))
		}
	}
}

// handle reports whether the message's offset may be committed.
func (c *WebhookConsumer) handle(ctx context.Context, m kafkago.Message) bool {
	env, err := models.NormalizeEnvelope(m.Value)
	if err != nil {
		c.logger.Warn("Unparseable webhook message",
			zap.Error(err),
			zap.Int("offset", int(m.Offset)),
		)
		c.deadLetter(ctx, m)
		return true
	}

	// A Retry result is redriven in place with a capped backoff. Skipping
	// ahead would commit past a message that never got processed.
	backoff := time.Second
	for {
		switch result := c.pipe.Submit(ctx, env); result {
		case pipeline.ResultProcessed, pipeline.ResultDuplicate:
			return true
		case pipeline.ResultRejected:
			c.deadLetter(ctx, m)
			return true
		case pipeline.ResultRetry:
			c.logger.Warn("Webhook processing deferred, retrying",
				zap.String("event_type", env.EventType),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (c *WebhookConsumer) deadLetter(ctx context.Context, m kafkago.Message) {
	if c.dlq == nil {
		c.logger.Error("Rejected webhook dropped, no dead-letter topic configured",
			zap.Int("offset", int(m.Offset)))
		return
	}
	if err := c.dlq.WriteMessages(ctx, kafkago.Message{Key: m.Key, Value: m.Value}); err != nil {
		c.logger.Error("Failed to dead-letter webhook message", zap.Error(err))
	}
}

func (c *WebhookConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn("Failed to close webhook consumer", zap.Error(err))
	}
	if c.dlq != nil {
		_ = c.dlq.Close()
	}
}
