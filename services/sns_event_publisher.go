package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"payment-sync-service/models"
	aws_pkg "payment-sync-service/pkg/aws"
)

// SNSEventPublisher publishes payment events to an SNS topic. It is the SQS
// deployment's counterpart to the Kafka producer.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string, logger *zap.Logger) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn, logger: logger}
}

// Publish implements pipeline.EventPublisher.
func (p *SNSEventPublisher) Publish(ctx context.Context, event models.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.topicArn, data); err != nil {
		return err
	}
	p.logger.Info("Published payment event",
		zap.String("event_type", event.Type),
		zap.String("payment_id", event.PaymentID),
	)
	return nil
}
