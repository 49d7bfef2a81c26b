package services

import (
	"context"

	"go.uber.org/zap"

	"payment-sync-service/models"
	"payment-sync-service/pipeline"
	aws_pkg "payment-sync-service/pkg/aws"
)

// SQSWebhookConsumer is the SQS transport for webhook messages, for
// deployments that front the gateway with SNS+SQS instead of Kafka. The
// pipeline's disposition maps directly onto the queue semantics.
type SQSWebhookConsumer struct {
	consumer *aws_pkg.SQSConsumer
	pipe     *pipeline.Pipeline
	logger   *zap.Logger
}

func NewSQSWebhookConsumer(consumer *aws_pkg.SQSConsumer, pipe *pipeline.Pipeline, logger *zap.Logger) *SQSWebhookConsumer {
	return &SQSWebhookConsumer{consumer: consumer, pipe: pipe, logger: logger}
}

// Start polls until ctx is cancelled.
func (c *SQSWebhookConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting webhook consumer (SQS)")

	err := c.consumer.StartPolling(ctx, func(ctx context.Context, body string) aws_pkg.Disposition {
		env, err := models.NormalizeEnvelope([]byte(body))
		if err != nil {
			c.logger.Warn("Unparseable webhook message", zap.Error(err))
			return aws_pkg.DeadLetter
		}

		switch c.pipe.Submit(ctx, env) {
		case pipeline.ResultProcessed, pipeline.ResultDuplicate:
			return aws_pkg.Ack
		case pipeline.ResultRejected:
			return aws_pkg.DeadLetter
		default:
			return aws_pkg.Requeue
		}
	})
	if err != nil && err != context.Canceled {
		c.logger.Error("SQS webhook consumer error", zap.Error(err))
	}
}
