package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// Payment is one STK push attempt keyed by the provider's CheckoutRequestID.
// OrderID is nil for callbacks that could not be matched to a push.
type Payment struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID              *uuid.UUID          `gorm:"column:order_id;type:uuid"`
	Amount               decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;not null"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;not null"`
	TransactionReference string              `gorm:"column:transaction_reference;not null;uniqueIndex"`
	MerchantRequestID    *string             `gorm:"column:merchant_request_id"`
	MpesaTransactionID   *string             `gorm:"column:mpesa_transaction_id"`
	PhoneNumber          *string             `gorm:"column:phone_number"`
	ResultCode           *int                `gorm:"column:result_code"`
	ResultDesc           *string             `gorm:"column:result_desc"`
	PaymentDate          *time.Time          `gorm:"column:payment_date"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
