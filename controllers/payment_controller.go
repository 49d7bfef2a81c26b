package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/gateway"
	"payment-sync-service/models"
	"payment-sync-service/pipeline"
	"payment-sync-service/repository"
)

type PaymentController struct {
	Repo      repository.PaymentRepository
	Gateway   *gateway.Client
	Publisher pipeline.EventPublisher
	Enqueuer  pipeline.JobEnqueuer
	Locks     *pipeline.KeyLock
	Logger    *zap.Logger
}

// InitiatePayment creates a payment and charges it through the gateway.
// Replaying the same idempotency key returns the existing record instead of
// charging twice.
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if existing, err := pc.Repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		c.JSON(http.StatusOK, paymentResponse(existing))
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		pc.Logger.Error("Payment lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       strings.ToLower(req.Currency),
		Status:         domain.StatusPending,
	}
	if err := pc.Repo.Create(ctx, payment); err != nil {
		pc.Logger.Error("Failed to create payment record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save payment"})
		return
	}

	res, err := pc.Gateway.Charge(ctx, gateway.Request{
		IdempotencyKey: payment.IdempotencyKey,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	})
	if err != nil {
		pc.Logger.Warn("Gateway charge failed",
			zap.String("idempotency_key", payment.IdempotencyKey),
			zap.Error(err),
		)
		// The record stays PENDING; the reconciler will learn the truth from
		// the gateway once it is reachable again.
		writeGatewayError(c, err)
		return
	}

	if err := pc.Repo.SetGatewayReference(ctx, payment.ID, res.Reference); err != nil {
		pc.Logger.Error("Failed to store gateway reference", zap.Error(err))
	}
	payment.GatewayReference = &res.Reference

	if res.Status != payment.Status {
		if updated, err := pc.Repo.ApplyTransition(ctx, payment.ID, payment.Status, res.Status,
			models.MaskPayload(res.RawPayload), domain.SourceDirect); err == nil {
			payment = updated
			pc.publish(c, payment)
		} else {
			pc.Logger.Warn("Failed to record charge status", zap.Error(err))
		}
	}

	if !payment.Status.Terminal() && pc.Enqueuer != nil {
		// Seed the reconciler so the payment converges even if no webhook
		// ever arrives.
		pc.Enqueuer.EnqueueReconciliation(payment.IdempotencyKey, payment.Status)
	}

	c.JSON(http.StatusCreated, paymentResponse(payment))
}

// GetPayment returns one payment by idempotency key.
func (pc *PaymentController) GetPayment(c *gin.Context) {
	key := c.Param("idempotency_key")
	payment, err := pc.Repo.GetByIdempotencyKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		pc.Logger.Error("Payment lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, paymentResponse(payment))
}

// RefundPayment issues a refund through the gateway. The refund idempotency
// key makes client retries safe.
func (pc *PaymentController) RefundPayment(c *gin.Context) {
	key := c.Param("idempotency_key")
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if existing, err := pc.Repo.GetRefundByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		c.JSON(http.StatusOK, gin.H{
			"refund_id": existing.ID.String(),
			"status":    existing.Status,
			"amount":    existing.Amount,
		})
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		pc.Logger.Error("Refund lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	payment, err := pc.Repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		pc.Logger.Error("Payment lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	release := pc.Locks.Acquire(payment.IdempotencyKey)
	defer release()

	// Re-read under the lock; a webhook may have just moved the record.
	payment, err = pc.Repo.GetByID(ctx, payment.ID)
	if err != nil {
		pc.Logger.Error("Payment re-read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	refunded, err := pc.Repo.SucceededRefundTotal(ctx, payment.ID)
	if err != nil {
		pc.Logger.Error("Refund total lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	newStatus, err := domain.ApplyRefund(payment.Status, payment.Amount, refunded, req.Amount)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	refund := &models.Refund{
		ID:             uuid.New(),
		PaymentID:      payment.ID,
		Amount:         req.Amount,
		Status:         domain.RefundPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := pc.Repo.CreateRefund(ctx, refund); err != nil {
		pc.Logger.Error("Failed to create refund record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save refund"})
		return
	}

	res, err := pc.Gateway.Refund(ctx, gateway.Request{
		IdempotencyKey: req.IdempotencyKey,
		Reference:      derefString(payment.GatewayReference),
		Amount:         req.Amount,
		Currency:       payment.Currency,
	})
	if err != nil {
		if markErr := pc.Repo.MarkRefund(ctx, refund.ID, domain.RefundFailed, nil); markErr != nil {
			pc.Logger.Error("Failed to mark refund failed", zap.Error(markErr))
		}
		pc.Logger.Warn("Gateway refund failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		writeGatewayError(c, err)
		return
	}

	if err := pc.Repo.MarkRefund(ctx, refund.ID, domain.RefundSucceeded, &res.Reference); err != nil {
		pc.Logger.Error("Failed to mark refund succeeded", zap.Error(err))
	}

	updated, err := pc.Repo.ApplyTransition(ctx, payment.ID, payment.Status, newStatus,
		models.MaskPayload(res.RawPayload), domain.SourceDirect)
	if err != nil {
		pc.Logger.Error("Failed to record refund transition", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refund issued but not recorded"})
		return
	}
	pc.publish(c, updated)

	c.JSON(http.StatusOK, gin.H{
		"refund_id": refund.ID.String(),
		"status":    domain.RefundSucceeded,
		"amount":    refund.Amount,
		"payment":   paymentResponse(updated),
	})
}

func (pc *PaymentController) publish(c *gin.Context, payment *models.Payment) {
	if pc.Publisher == nil {
		return
	}
	event := models.PaymentEvent{
		Type:           models.EventTypeFor(payment.Status),
		PaymentID:      payment.ID.String(),
		IdempotencyKey: payment.IdempotencyKey,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Status:         payment.Status,
		Source:         domain.SourceDirect,
		Timestamp:      time.Now().UTC(),
	}
	if err := pc.Publisher.Publish(c.Request.Context(), event); err != nil {
		pc.Logger.Error("Failed to publish payment event", zap.Error(err))
	}
}

func paymentResponse(p *models.Payment) gin.H {
	resp := gin.H{
		"payment_id":      p.ID.String(),
		"idempotency_key": p.IdempotencyKey,
		"amount":          p.Amount,
		"currency":        p.Currency,
		"status":          p.Status,
	}
	if p.GatewayReference != nil {
		resp["gateway_reference"] = *p.GatewayReference
	}
	return resp
}

// writeGatewayError maps classified errors onto HTTP statuses.
func writeGatewayError(c *gin.Context, err error) {
	var exhausted *errs.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}

	kind, _ := errs.KindOf(err)
	switch kind {
	case errs.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errs.KindAuth:
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway rejected credentials"})
	case errs.KindRateLimited, errs.KindCircuitOpen:
		if wait := errs.RetryAfterOf(err); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway unavailable, retry later"})
	case errs.KindTimeout, errs.KindTransient:
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway error, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
