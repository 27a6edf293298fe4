package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/payloads"
)

// BuyerCancelReason is stored on orders the buyer cancels.
const BuyerCancelReason = "cancelled by buyer"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ReservationReleaser flips a reservation and restores stock when the reason calls for it.
type ReservationReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason enums.ReleaseReason) (reservations.ReleaseResult, error)
}

// Service covers the buyer-facing order operations that follow checkout.
type Service interface {
	Detail(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDetail, error)
	Cancel(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDetail, error)
	RequestReceipt(ctx context.Context, buyerID, orderID uuid.UUID) (*ReceiptRequest, error)
}

// ReceiptRequest acknowledges a queued receipt send.
type ReceiptRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	releaser ReservationReleaser
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the buyer order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, releaser ReservationReleaser, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if releaser == nil {
		return nil, fmt.Errorf("reservation releaser required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		releaser: releaser,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Detail(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.loadOwned(ctx, s.repo, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.LatestPayment(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest payment")
	}
	return NewOrderDetail(order, payment), nil
}

// Cancel releases the buyer's reservation, restores stock and cancels the order.
// Only pending, unpaid orders can be cancelled.
func (s *service) Cancel(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDetail, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwned(ctx, repo, buyerID, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.OrderPaymentPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")
		}

		release, err := s.releaser.Release(ctx, tx, order.ID, enums.ReleaseReasonCancelled)
		if err != nil {
			return err
		}
		if !release.Released {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order reservation already released")
		}

		cancelled, err := repo.CancelIfPending(ctx, order.ID, BuyerCancelReason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !cancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment already settled")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.BuyerActor(buyerID),
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				Reason:      enums.ReleaseReasonCancelled,
				CancelledAt: s.now(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Detail(ctx, buyerID, orderID)
}

// RequestReceipt queues a receipt send for a paid order.
func (s *service) RequestReceipt(ctx context.Context, buyerID, orderID uuid.UUID) (*ReceiptRequest, error) {
	var request *ReceiptRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwned(ctx, repo, buyerID, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != enums.OrderPaymentPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "receipts are only available for paid orders")
		}
		payment, err := repo.LatestPayment(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest payment")
		}
		if payment == nil || payment.PaymentStatus != enums.PaymentStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no completed payment on record")
		}

		request = &ReceiptRequest{OrderID: order.ID, PaymentID: payment.ID, RequestedAt: s.now()}
		event := payloads.ReceiptRequestedEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			PaymentID:   payment.ID,
			Amount:      payment.Amount,
			RequestedAt: request.RequestedAt,
		}
		if payment.MpesaTransactionID != nil {
			event.ReceiptNumber = *payment.MpesaTransactionID
		}
		if payment.PhoneNumber != nil {
			event.PhoneNumber = *payment.PhoneNumber
		} else if order.PhoneNumber != nil {
			event.PhoneNumber = *order.PhoneNumber
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReceiptRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.BuyerActor(buyerID),
			Data:          event,
		})
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// loadOwned hides orders of other buyers behind a not-found error.
func (s *service) loadOwned(ctx context.Context, repo Repository, buyerID, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}
