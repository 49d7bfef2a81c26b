package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Disposition tells the consumer what to do with a message after the handler
// has seen it.
type Disposition int

const (
	// Ack deletes the message from the queue.
	Ack Disposition = iota
	// Requeue leaves the message in flight; SQS redelivers it after the
	// visibility timeout.
	Requeue
	// DeadLetter forwards the message to the dead-letter queue and deletes
	// it from the main queue.
	DeadLetter
)

// MessageHandler inspects one message body and decides its disposition.
type MessageHandler func(ctx context.Context, body string) Disposition

// SQSConsumer long-polls one queue and routes messages per the handler's
// disposition.
type SQSConsumer struct {
	client   *sqs.Client
	queueURL string
	dlqURL   string
	logger   *zap.Logger
}

// NewSQSConsumer creates a consumer for queueURL. dlqURL may be empty, in
// which case DeadLetter degrades to Ack with an error log.
func NewSQSConsumer(cfg aws.Config, queueURL, dlqURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		dlqURL:   dlqURL,
		logger:   logger,
	}
}

// StartPolling receives messages until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped")
			return ctx.Err()
		default:
			if err := c.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				c.logger.Warn("SQS poll failed", zap.Error(err))
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		switch handler(ctx, *msg.Body) {
		case Requeue:
			// Leave it; visibility timeout brings it back.
			continue
		case DeadLetter:
			c.forwardToDLQ(ctx, *msg.Body)
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("Failed to delete SQS message", zap.Error(err))
		}
	}

	return nil
}

func (c *SQSConsumer) forwardToDLQ(ctx context.Context, body string) {
	if c.dlqURL == "" {
		c.logger.Error("Rejected message dropped, no dead-letter queue configured")
		return
	}
	if _, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &c.dlqURL,
		MessageBody: &body,
	}); err != nil {
		c.logger.Error("Failed to forward message to dead-letter queue", zap.Error(err))
	}
}

// GetQueueURL retrieves the URL for a queue name.
func GetQueueURL(ctx context.Context, cfg aws.Config, queueName string) (string, error) {
	client := sqs.NewFromConfig(cfg)
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return *result.QueueUrl, nil
}
