package routes

import (
	"github.com/gin-gonic/gin"

	"payment-sync-service/controllers"
	"payment-sync-service/middleware"
)

// Register wires the HTTP surface. Webhook endpoints skip the per-IP rate
// limiter; the gateway's retry schedule must not be throttled by us.
func Register(r *gin.Engine, pc *controllers.PaymentController, wc *controllers.WebhookController, hc *controllers.HealthController, requestsPerMinute, burst int) {
	r.Use(middleware.SecurityHeaders())

	r.GET("/healthz", hc.Live)
	r.GET("/readyz", hc.Ready)

	payments := r.Group("/payments")
	payments.Use(middleware.RateLimit(requestsPerMinute, burst))
	payments.POST("", pc.InitiatePayment)
	payments.GET("/:idempotency_key", pc.GetPayment)
	payments.POST("/:idempotency_key/refunds", pc.RefundPayment)

	r.POST("/stripe/webhook", wc.StripeWebhook)
	r.POST("/webhooks/events", wc.IngestEvent)
}
