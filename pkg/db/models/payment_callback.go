package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// PaymentCallback is the append-only log of raw provider callbacks used for manual reconciliation.
type PaymentCallback struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	CheckoutRequestID string                `gorm:"column:checkout_request_id;not null;index"`
	MerchantRequestID string                `gorm:"column:merchant_request_id"`
	ResultCode        int                   `gorm:"column:result_code;not null"`
	ResultDesc        string                `gorm:"column:result_desc"`
	Outcome           enums.CallbackOutcome `gorm:"column:outcome;not null"`
	Payload           datatypes.JSON        `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentCallback) TableName() string { return "payment_callbacks" }

func (c *PaymentCallback) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
