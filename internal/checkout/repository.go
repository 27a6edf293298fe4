package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
)

// Repository exposes the product lookups checkout prices orders with.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindProducts returns the requested products keyed by id; missing ids are simply absent.
func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	found := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		found[row.ID] = row
	}
	return found, nil
}
