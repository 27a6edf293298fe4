package reservations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
)

var errProductMissing = errors.New("product missing")

// Line is a product quantity to hold against stock.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// ReleaseResult reports what a Release call changed.
type ReleaseResult struct {
	Released      bool
	RestoredItems int
	FailedItems   int
}

// Service owns every write to products.quantity_available and order_reservations.released.
type Service struct {
	logg    *logger.Logger
	metrics *metrics.ReservationMetrics
	now     func() time.Time
}

func NewService(logg *logger.Logger, m *metrics.ReservationMetrics) *Service {
	return &Service{
		logg:    logg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve decrements stock for every line on tx. A shortfall on any product
// fails with CodeConflict and the caller's transaction must roll back.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	totals := map[uuid.UUID]int{}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		totals[line.ProductID] += line.Quantity
	}
	if len(totals) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	for _, productID := range sortedIDs(totals) {
		qty := totals[productID]
		res := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ? AND quantity_available >= ?", productID, qty).
			Update("quantity_available", gorm.Expr("quantity_available - ?", qty))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
		}
		if res.RowsAffected == 1 {
			continue
		}

		var product models.Product
		if err := tx.WithContext(ctx).Select("id", "quantity_available").First(&product, "id = ?", productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").WithDetails(map[string]any{
			"product_id": productID.String(),
			"requested":  qty,
			"available":  product.QuantityAvailable,
		})
	}
	return nil
}

// Hold records the reservation row for an order whose stock Reserve has already taken.
func (s *Service) Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, ttl time.Duration) (*models.OrderReservation, error) {
	reservation := &models.OrderReservation{
		OrderID:   orderID,
		ExpiresAt: s.now().Add(ttl),
	}
	if err := tx.WithContext(ctx).Create(reservation).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	return reservation, nil
}

// Release flips the order's reservation to released and, for reasons other than
// paid, returns the held units to stock. Only the caller whose conditional
// update flips the row restores stock; everyone else gets Released=false.
// Each product is restored in its own savepoint so one bad row does not
// undo the others.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.ReleaseReason) (ReleaseResult, error) {
	var result ReleaseResult
	if tx == nil {
		return result, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	tx = tx.WithContext(ctx)

	res := tx.Model(&models.OrderReservation{}).
		Where("order_id = ? AND released = ?", orderID, false).
		Updates(map[string]any{
			"released":       true,
			"released_at":    s.now(),
			"release_reason": reason,
		})
	if res.Error != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release reservation")
	}
	if res.RowsAffected == 0 {
		return result, nil
	}
	result.Released = true
	s.metrics.IncReleased(reason.String())

	if !reason.RestoresStock() {
		return result, nil
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("product_id ASC").Find(&items).Error; err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}

	for _, item := range items {
		err := tx.Transaction(func(sp *gorm.DB) error {
			res := sp.Model(&models.Product{}).
				Where("id = ?", item.ProductID).
				Update("quantity_available", gorm.Expr("quantity_available + ?", item.QuantityOrdered))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errProductMissing
			}
			return nil
		})
		if err != nil {
			result.FailedItems++
			s.metrics.IncRestoreFailure()
			if s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"order_id":   orderID.String(),
					"product_id": item.ProductID.String(),
					"quantity":   item.QuantityOrdered,
					"reason":     reason.String(),
				})
				s.logg.Error(logCtx, "failed to restore reserved stock", err)
			}
			continue
		}
		result.RestoredItems++
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       orderID.String(),
			"reason":         reason.String(),
			"restored_items": result.RestoredItems,
			"failed_items":   result.FailedItems,
		})
		s.logg.Info(logCtx, "reservation released")
	}
	return result, nil
}

// Expired lists unreleased reservations whose expires_at is at or before now,
// oldest first. Ids in skip are left out so a sweep does not retry a row that
// already failed in the same pass.
func (s *Service) Expired(ctx context.Context, db *gorm.DB, now time.Time, limit int, skip []uuid.UUID) ([]models.OrderReservation, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db required")
	}
	query := db.WithContext(ctx).
		Where("released = ? AND expires_at <= ?", false, now.UTC())
	if len(skip) > 0 {
		query = query.Where("id NOT IN ?", skip)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.OrderReservation
	if err := query.Order("expires_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}
	return rows, nil
}

func sortedIDs(totals map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
