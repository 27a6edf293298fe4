package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// Order is a buyer purchase; payment_status is what the client polls after an STK push.
type Order struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID         uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null"`
	Status          enums.OrderStatus        `gorm:"column:status;not null"`
	PaymentStatus   enums.OrderPaymentStatus `gorm:"column:payment_status;not null"`
	PaymentMethod   enums.PaymentMethod      `gorm:"column:payment_method;not null"`
	TotalAmount     decimal.Decimal          `gorm:"column:total_amount;type:numeric(12,2);not null"`
	DeliveryAddress string                   `gorm:"column:delivery_address;not null"`
	PhoneNumber     *string                  `gorm:"column:phone_number"`
	CancelReason    *string                  `gorm:"column:cancel_reason"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	Items       []OrderItem       `gorm:"foreignKey:OrderID;references:ID"`
	Reservation *OrderReservation `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderItem is immutable once written; quantity_ordered is what a release hands back.
type OrderItem struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID       uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	QuantityOrdered int             `gorm:"column:quantity_ordered;not null"`
	UnitPrice       decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.QuantityOrdered)))
}
