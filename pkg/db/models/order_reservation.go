package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// OrderReservation holds an order's stock until payment settles or expires_at passes.
// Released only ever moves from false to true.
type OrderReservation struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	ExpiresAt     time.Time            `gorm:"column:expires_at;not null"`
	Released      bool                 `gorm:"column:released;not null;default:false"`
	ReleasedAt    *time.Time           `gorm:"column:released_at"`
	ReleaseReason *enums.ReleaseReason `gorm:"column:release_reason"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (OrderReservation) TableName() string { return "order_reservations" }

func (r *OrderReservation) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
