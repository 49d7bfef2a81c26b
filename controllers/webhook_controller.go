package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-sync-service/gateway"
	"payment-sync-service/models"
	"payment-sync-service/pipeline"
)

type WebhookController struct {
	Stripe *gateway.StripeGateway
	Pipe   *pipeline.Pipeline
	Logger *zap.Logger
}

// StripeWebhook verifies the signature and feeds the event through the
// pipeline. Stripe redelivers on any non-2xx, so only a Retry disposition
// returns one.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	event, err := wc.Stripe.ParseWebhook(c.Request)
	if err != nil {
		wc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	wc.Logger.Info("Processing Stripe webhook",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	env, err := gateway.EnvelopeFromEvent(event)
	if err != nil {
		wc.Logger.Warn("Failed to normalize Stripe event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	wc.respond(c, wc.Pipe.Submit(c.Request.Context(), env))
}

// IngestEvent accepts an already-normalized webhook envelope. Internal
// tooling and replay jobs post here; signature checks are assumed done
// upstream.
func (wc *WebhookController) IngestEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	env, err := models.NormalizeEnvelope(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wc.respond(c, wc.Pipe.Submit(c.Request.Context(), env))
}

func (wc *WebhookController) respond(c *gin.Context, result pipeline.Result) {
	switch result {
	case pipeline.ResultProcessed:
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	case pipeline.ResultDuplicate:
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	case pipeline.ResultRejected:
		// Terminal: acknowledging stops redelivery of something that will
		// never apply.
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "retry"})
	}
}
