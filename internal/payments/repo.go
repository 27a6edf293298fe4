package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/pagination"
)

// Repository defines persistence for payments and the raw callback log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByReference(ctx context.Context, reference string) (*models.Payment, error)
	Complete(ctx context.Context, paymentID uuid.UUID, result Completion) (bool, error)
	Fail(ctx context.Context, paymentID uuid.UUID, resultCode int, resultDesc string) (bool, error)
	HasPending(ctx context.Context, orderID uuid.UUID) (bool, error)
	LogCallback(ctx context.Context, entry *models.PaymentCallback) error
	List(ctx context.Context, filter ListFilter) ([]models.Payment, error)
}

// Completion carries what a success callback adds to a pending payment.
type Completion struct {
	ReceiptNumber string
	PhoneNumber   string
	PaymentDate   time.Time
	ResultCode    int
	ResultDesc    string
}

// ListFilter narrows the admin payment listing.
type ListFilter struct {
	Status    *enums.PaymentStatus
	Unmatched bool
	Cursor    *pagination.Cursor
	Limit     int
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_reference = ?", reference).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// Complete moves a pending payment to completed. It reports false when the
// payment was no longer pending.
func (r *repository) Complete(ctx context.Context, paymentID uuid.UUID, result Completion) (bool, error) {
	updates := map[string]any{
		"payment_status": enums.PaymentStatusCompleted,
		"result_code":    result.ResultCode,
		"result_desc":    result.ResultDesc,
		"payment_date":   result.PaymentDate,
	}
	if result.ReceiptNumber != "" {
		updates["mpesa_transaction_id"] = result.ReceiptNumber
	}
	if result.PhoneNumber != "" {
		updates["phone_number"] = result.PhoneNumber
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND payment_status = ?", paymentID, enums.PaymentStatusPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// Fail moves a pending payment to failed.
func (r *repository) Fail(ctx context.Context, paymentID uuid.UUID, resultCode int, resultDesc string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND payment_status = ?", paymentID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"result_code":    resultCode,
			"result_desc":    resultDesc,
		})
	return res.RowsAffected == 1, res.Error
}

// HasPending reports whether a push for orderID is still awaiting its callback.
func (r *repository) HasPending(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) LogCallback(ctx context.Context, entry *models.PaymentCallback) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if filter.Status != nil {
		query = query.Where("payment_status = ?", *filter.Status)
	}
	if filter.Unmatched {
		query = query.Where("order_id IS NULL")
	}
	var rows []models.Payment
	if err := pagination.Apply(query, filter.Cursor, filter.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
