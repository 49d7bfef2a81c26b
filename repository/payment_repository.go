package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/models"
)

// PaymentRepository is the persistence contract the state machine commits
// through. ApplyTransition is conditional on the current status so stale
// transitions are rejected even under concurrent writers.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	SetGatewayReference(ctx context.Context, id uuid.UUID, reference string) error
	ApplyTransition(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, maskedPayload string, source domain.TransitionSource) (*models.Payment, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetRefundByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error)
	SucceededRefundTotal(ctx context.Context, paymentID uuid.UUID) (int64, error)
	MarkRefund(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, reference *string) error
	ListNonTerminal(ctx context.Context) ([]models.Payment, error)
}

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("record not found")

type gormPaymentRepo struct {
	db *gorm.DB
}

// NewGormPaymentRepo wraps a gorm DB in the PaymentRepository contract.
func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.getPayment(ctx, "id = ?", id)
}

func (r *gormPaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	return r.getPayment(ctx, "idempotency_key = ?", key)
}

func (r *gormPaymentRepo) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.getPayment(ctx, "gateway_reference = ?", reference)
}

func (r *gormPaymentRepo) getPayment(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where(query, arg).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *gormPaymentRepo) SetGatewayReference(ctx context.Context, id uuid.UUID, reference string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Update("gateway_reference", reference).Error
}

// ApplyTransition commits a status transition as a compare-and-swap on the
// current status, appends the audit trail row, and returns the updated
// record. A CAS miss (someone else moved the record first) surfaces as a
// conflict, which the state machine treats as a stale transition.
func (r *gormPaymentRepo) ApplyTransition(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, maskedPayload string, source domain.TransitionSource) (*models.Payment, error) {
	var updated models.Payment

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		if maskedPayload != "" {
			updates["last_gateway_payload"] = maskedPayload
		}
		switch to {
		case domain.StatusSucceeded:
			updates["succeeded_at"] = &now
		case domain.StatusFailed:
			updates["failed_at"] = &now
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Conflict(fmt.Sprintf("payment %s no longer in %s", id, from))
		}

		if err := tx.Create(&models.Transition{
			PaymentID:  id,
			FromStatus: from,
			ToStatus:   to,
			Source:     source,
		}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreateRefund inserts the refund row. The unique index on the idempotency
// key is the last-line duplicate guard when the dedup set misses; that hit
// surfaces as a conflict, not a retryable failure.
func (r *gormPaymentRepo) CreateRefund(ctx context.Context, refund *models.Refund) error {
	err := r.db.WithContext(ctx).Create(refund).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Conflict(fmt.Sprintf("refund %s already recorded", refund.IdempotencyKey))
	}
	return err
}

func (r *gormPaymentRepo) GetRefundByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *gormPaymentRepo) SucceededRefundTotal(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("payment_id = ? AND status = ?", paymentID, domain.RefundSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormPaymentRepo) MarkRefund(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, reference *string) error {
	updates := map[string]interface{}{"status": status}
	if reference != nil {
		updates["gateway_reference"] = *reference
	}
	return r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ?", refundID).
		Updates(updates).Error
}

// ListNonTerminal returns every payment still awaiting reconciliation. The
// reconciliation queue is rebuilt from this at startup.
func (r *gormPaymentRepo) ListNonTerminal(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.PaymentStatus{
			domain.StatusPending,
			domain.StatusAuthorized,
		}).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}
