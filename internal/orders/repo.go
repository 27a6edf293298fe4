package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	CancelIfPending(ctx context.Context, orderID uuid.UUID, reason string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order together with its Items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Reservation").Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Reservation").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LatestPayment returns the most recent payment attempt for the order, or nil when none exists.
func (r *repository) LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkPaid sets payment_status=paid and promotes a pending order to confirmed.
// A cancelled order keeps its status so a late payment stays visible.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, enums.OrderPaymentPaid).
		Updates(map[string]any{
			"payment_status": enums.OrderPaymentPaid,
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				enums.OrderStatusPending, enums.OrderStatusConfirmed),
		})
	return res.RowsAffected == 1, res.Error
}

// CancelIfPending cancels the order only while its payment is still pending.
func (r *repository) CancelIfPending(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.OrderPaymentPending).
		Updates(map[string]any{
			"status":         enums.OrderStatusCancelled,
			"payment_status": enums.OrderPaymentFailed,
			"cancel_reason":  reason,
		})
	return res.RowsAffected == 1, res.Error
}
