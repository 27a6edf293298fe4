package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Reconciler applies STK callbacks to payments, orders and reservations.
type Reconciler struct {
	tx       txRunner
	repo     Repository
	orders   orders.Repository
	releaser orders.ReservationReleaser
	outbox   outboxPublisher
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

type ReconcilerParams struct {
	Tx       txRunner
	Payments Repository
	Orders   orders.Repository
	Releaser orders.ReservationReleaser
	Outbox   outboxPublisher
	Metrics  *metrics.PaymentMetrics
	Logger   *logger.Logger
}

func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Releaser == nil:
		return nil, fmt.Errorf("reservation releaser required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{
		tx:       p.Tx,
		repo:     p.Payments,
		orders:   p.Orders,
		releaser: p.Releaser,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleRawCallback decodes, applies and logs one callback body. It never
// fails: the provider only needs an acknowledgement, so problems are logged
// and counted instead.
func (r *Reconciler) HandleRawCallback(ctx context.Context, body []byte) enums.CallbackOutcome {
	cb, err := mpesa.DecodeCallback(body)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mpesa callback rejected")
		r.metrics.IncCallback(enums.CallbackOutcomeInvalid.String())
		r.logCallback(ctx, cb, body, enums.CallbackOutcomeInvalid)
		return enums.CallbackOutcomeInvalid
	}

	outcome, err := r.HandleCallback(ctx, cb)
	if err != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"checkout_request_id": cb.CheckoutRequestID,
			"result_code":         int(cb.ResultCode),
		})
		r.logg.Error(logCtx, "mpesa callback reconciliation failed", err)
	}
	r.metrics.IncCallback(outcome.String())
	r.logCallback(ctx, cb, body, outcome)
	return outcome
}

// HandleCallback reconciles one decoded callback keyed by CheckoutRequestID.
// Repeated deliveries of the same callback are no-ops.
func (r *Reconciler) HandleCallback(ctx context.Context, cb mpesa.STKCallback) (enums.CallbackOutcome, error) {
	if cb.CheckoutRequestID == "" {
		return enums.CallbackOutcomeInvalid, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id required")
	}
	ctx = r.logg.WithField(ctx, "checkout_request_id", cb.CheckoutRequestID)
	if cb.Succeeded() {
		return r.handleSuccess(ctx, cb)
	}
	return r.handleFailure(ctx, cb)
}

func (r *Reconciler) handleSuccess(ctx context.Context, cb mpesa.STKCallback) (enums.CallbackOutcome, error) {
	meta := cb.Metadata()
	paidAt := r.now()
	if meta.TransactionDate != nil {
		paidAt = *meta.TransactionDate
	}

	outcome := enums.CallbackOutcomeCompleted
	var unmatched *models.Payment
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		payment, err := repo.FindByReference(ctx, cb.CheckoutRequestID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = enums.CallbackOutcomeUnmatched
			unmatched, err = r.recordUnmatched(ctx, tx, cb, meta, paidAt)
			return err
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.PaymentStatus != enums.PaymentStatusPending {
			outcome = enums.CallbackOutcomeDuplicate
			return nil
		}

		completed, err := repo.Complete(ctx, payment.ID, Completion{
			ReceiptNumber: meta.ReceiptNumber,
			PhoneNumber:   meta.PhoneNumber,
			PaymentDate:   paidAt,
			ResultCode:    int(cb.ResultCode),
			ResultDesc:    cb.ResultDesc,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
		}
		if !completed {
			outcome = enums.CallbackOutcomeDuplicate
			return nil
		}
		if meta.HasAmount && !meta.Amount.Equal(payment.Amount.Ceil()) && !meta.Amount.Equal(payment.Amount) {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"expected_amount": payment.Amount.String(),
				"paid_amount":     meta.Amount.String(),
			}), "mpesa callback amount differs from push amount")
		}
		if payment.OrderID == nil {
			return nil
		}

		order, err := r.orders.WithTx(tx).FindOrder(ctx, *payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		late := order.Status == enums.OrderStatusCancelled || order.PaymentStatus == enums.OrderPaymentFailed
		if late {
			outcome = enums.CallbackOutcomeLatePayment
		}
		if _, err := r.orders.WithTx(tx).MarkPaid(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if _, err := r.releaser.Release(ctx, tx, order.ID, enums.ReleaseReasonPaid); err != nil {
			return err
		}

		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.MpesaActor(cb.CheckoutRequestID),
			Data: payloads.OrderPaidEvent{
				OrderID:       order.ID,
				BuyerID:       order.BuyerID,
				PaymentID:     payment.ID,
				ReceiptNumber: meta.ReceiptNumber,
				Amount:        payment.Amount,
				PaidAt:        paidAt,
				LatePayment:   late,
			},
		})
	})
	if err != nil {
		return enums.CallbackOutcomeError, err
	}

	switch outcome {
	case enums.CallbackOutcomeUnmatched:
		r.metrics.IncUnmatched()
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"payment_id":     unmatched.ID.String(),
			"receipt_number": meta.ReceiptNumber,
			"amount":         meta.Amount.String(),
		}), "mpesa success callback matched no payment; recorded for manual reconciliation")
	case enums.CallbackOutcomeLatePayment:
		r.logg.Warn(ctx, "mpesa payment arrived after the order was cancelled")
	case enums.CallbackOutcomeDuplicate:
		r.logg.Info(ctx, "duplicate mpesa callback ignored")
	default:
		r.logg.Info(ctx, "mpesa payment completed")
	}
	return outcome, nil
}

// recordUnmatched keeps the money trail for a success nobody was waiting for.
func (r *Reconciler) recordUnmatched(ctx context.Context, tx *gorm.DB, cb mpesa.STKCallback, meta mpesa.PaymentMetadata, paidAt time.Time) (*models.Payment, error) {
	code := int(cb.ResultCode)
	desc := cb.ResultDesc
	payment := &models.Payment{
		Amount:               meta.Amount,
		PaymentMethod:        enums.PaymentMethodMpesa,
		PaymentStatus:        enums.PaymentStatusCompleted,
		TransactionReference: cb.CheckoutRequestID,
		MerchantRequestID:    optionalString(cb.MerchantRequestID),
		MpesaTransactionID:   optionalString(meta.ReceiptNumber),
		PhoneNumber:          optionalString(meta.PhoneNumber),
		ResultCode:           &code,
		ResultDesc:           &desc,
		PaymentDate:          &paidAt,
	}
	if err := r.repo.WithTx(tx).Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unmatched payment")
	}
	err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentUnmatched,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.MpesaActor(cb.CheckoutRequestID),
		Data: payloads.PaymentUnmatchedEvent{
			PaymentID:         payment.ID,
			CheckoutRequestID: cb.CheckoutRequestID,
			ReceiptNumber:     meta.ReceiptNumber,
			Amount:            meta.Amount,
			PhoneNumber:       meta.PhoneNumber,
		},
	})
	return payment, err
}

func (r *Reconciler) handleFailure(ctx context.Context, cb mpesa.STKCallback) (enums.CallbackOutcome, error) {
	code := int(cb.ResultCode)
	outcome := enums.CallbackOutcomeFailed
	var cancelledOrder uuid.UUID

	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		payment, err := repo.FindByReference(ctx, cb.CheckoutRequestID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = enums.CallbackOutcomeUnmatchedFailure
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.PaymentStatus != enums.PaymentStatusPending {
			outcome = enums.CallbackOutcomeDuplicate
			return nil
		}
		failed, err := repo.Fail(ctx, payment.ID, code, cb.ResultDesc)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		if !failed {
			outcome = enums.CallbackOutcomeDuplicate
			return nil
		}
		if payment.OrderID == nil {
			return nil
		}
		// another push for the order can still collect; leave the hold in place
		live, err := repo.HasPending(ctx, *payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending payments")
		}
		if live {
			return nil
		}

		release, err := r.releaser.Release(ctx, tx, *payment.OrderID, enums.ReleaseReasonPaymentFailed)
		if err != nil {
			return err
		}
		if !release.Released {
			return nil
		}

		ordersRepo := r.orders.WithTx(tx)
		cancelled, err := ordersRepo.CancelIfPending(ctx, *payment.OrderID, failureReason(cb.ResultDesc))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !cancelled {
			return nil
		}
		order, err := ordersRepo.FindOrder(ctx, *payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		cancelledOrder = order.ID
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.MpesaActor(cb.CheckoutRequestID),
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				Reason:      enums.ReleaseReasonPaymentFailed,
				ResultCode:  &code,
				CancelledAt: r.now(),
			},
		})
	})
	if err != nil {
		return enums.CallbackOutcomeError, err
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"result_code": code,
		"result_desc": cb.ResultDesc,
	})
	switch outcome {
	case enums.CallbackOutcomeUnmatchedFailure:
		r.metrics.IncUnmatched()
		r.logg.Warn(logCtx, "mpesa failure callback matched no payment")
	case enums.CallbackOutcomeDuplicate:
		r.logg.Info(logCtx, "duplicate mpesa callback ignored")
	default:
		if cancelledOrder != uuid.Nil {
			logCtx = r.logg.WithOrderID(logCtx, cancelledOrder.String())
		}
		r.logg.Info(logCtx, "mpesa payment failed")
	}
	return outcome, nil
}

// logCallback appends the raw body to payment_callbacks. Failures are only logged.
func (r *Reconciler) logCallback(ctx context.Context, cb mpesa.STKCallback, body []byte, outcome enums.CallbackOutcome) {
	payload := datatypes.JSON(body)
	if !json.Valid(body) {
		payload = datatypes.JSON(`{}`)
	}
	entry := &models.PaymentCallback{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        int(cb.ResultCode),
		ResultDesc:        cb.ResultDesc,
		Outcome:           outcome,
		Payload:           payload,
	}
	if err := r.repo.LogCallback(ctx, entry); err != nil {
		r.logg.Error(ctx, "failed to log mpesa callback", err)
	}
}

func failureReason(desc string) string {
	if desc == "" {
		return "payment failed"
	}
	return "payment failed: " + desc
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
