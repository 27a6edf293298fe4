package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a farmer listing; quantity_available is the reservable stock.
type Product struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	FarmerID          uuid.UUID       `gorm:"column:farmer_id;type:uuid;not null"`
	Name              string          `gorm:"column:name;not null"`
	PriceKES          decimal.Decimal `gorm:"column:price_kes;type:numeric(12,2);not null"`
	QuantityAvailable int             `gorm:"column:quantity_available;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
