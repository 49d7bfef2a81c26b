package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-sync-service/domain"
)

// Payment is the local record reconciled against the gateway's view. It is
// created in PENDING by the initiation path, mutated exclusively through
// conditional status transitions, and never hard-deleted.
type Payment struct {
	ID                 uuid.UUID            `gorm:"type:uuid;primaryKey"`
	IdempotencyKey     string               `gorm:"type:varchar(64);uniqueIndex;not null"`
	Amount             int64                `gorm:"not null"` // minor units
	Currency           string               `gorm:"type:varchar(3);not null"`
	Status             domain.PaymentStatus `gorm:"type:varchar(20);not null;index"`
	GatewayReference   *string              `gorm:"uniqueIndex"`
	LastGatewayPayload *string              `gorm:"type:jsonb"` // masked, for audit and debugging
	SucceededAt        *time.Time
	FailedAt           *time.Time
	CreatedAt          time.Time      `gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime"`
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

// Refund is a single refund against a payment. The sum of SUCCEEDED refund
// amounts for a payment never exceeds the payment amount.
type Refund struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey"`
	PaymentID        uuid.UUID           `gorm:"type:uuid;index;not null"`
	Amount           int64               `gorm:"not null"`
	Status           domain.RefundStatus `gorm:"type:varchar(20);not null"`
	IdempotencyKey   string              `gorm:"type:varchar(64);uniqueIndex;not null"`
	GatewayReference *string
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// Transition is one row of the additive-only audit trail: every accepted
// status transition appends exactly one.
type Transition struct {
	ID         uint                    `gorm:"primaryKey;autoIncrement"`
	PaymentID  uuid.UUID               `gorm:"type:uuid;index;not null"`
	FromStatus domain.PaymentStatus    `gorm:"type:varchar(20);not null"`
	ToStatus   domain.PaymentStatus    `gorm:"type:varchar(20);not null"`
	Source     domain.TransitionSource `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time               `gorm:"autoCreateTime"`
}
