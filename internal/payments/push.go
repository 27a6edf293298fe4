package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
)

// Gateway is the slice of the Daraja client the push flow needs.
type Gateway interface {
	CheckPushConfig() error
	InitiatePush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
}

// PushInput identifies the order to collect for and the phone to prompt.
type PushInput struct {
	BuyerID          uuid.UUID
	OrderID          uuid.UUID
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	TransactionDesc  string
}

// PushService sends one STK push for a pending order and records the pending payment.
type PushService struct {
	gateway Gateway
	repo    Repository
	orders  orders.Repository
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger
}

func NewPushService(gateway Gateway, repo Repository, ordersRepo orders.Repository, m *metrics.PaymentMetrics, logg *logger.Logger) (*PushService, error) {
	if gateway == nil {
		return nil, fmt.Errorf("mpesa gateway required")
	}
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &PushService{gateway: gateway, repo: repo, orders: ordersRepo, metrics: m, logg: logg}, nil
}

// CheckConfig fails with CodeConfiguration when a push could not be sent.
func (s *PushService) CheckConfig() error {
	return s.gateway.CheckPushConfig()
}

// Initiate validates the request, sends the push and persists a pending payment
// keyed by the returned CheckoutRequestID. A failed insert after an accepted
// push is logged and counted; the callback then lands as unmatched.
func (s *PushService) Initiate(ctx context.Context, in PushInput) (*mpesa.PushResponse, error) {
	if err := s.gateway.CheckPushConfig(); err != nil {
		return nil, err
	}
	phone, ok := mpesa.NormalizePhone(in.Phone)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid phone number").
			WithDetails(map[string]any{"phone": "expected 07XXXXXXXX, 7XXXXXXXX or 2547XXXXXXXX"})
	}
	if in.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.orders.FindOrder(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if in.BuyerID != uuid.Nil && order.BuyerID != in.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !order.PaymentMethod.RequiresPush() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable by M-Pesa")
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.OrderPaymentPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	}

	inFlight, err := s.repo.HasPending(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending payments")
	}
	if inFlight {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a payment request for this order is already in progress")
	}

	amount := order.TotalAmount
	if !in.Amount.IsZero() {
		if mpesa.WholeShillings(in.Amount) != mpesa.WholeShillings(order.TotalAmount) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount does not match order total").
				WithDetails(map[string]any{"order_total": order.TotalAmount.String()})
		}
	}

	logCtx := s.logg.WithPhone(s.logg.WithOrderID(ctx, order.ID.String()), phone)

	resp, err := s.gateway.InitiatePush(ctx, mpesa.PushRequest{
		Phone:            phone,
		Amount:           amount,
		AccountReference: defaultAccountReference(in.AccountReference, order.ID),
		TransactionDesc:  in.TransactionDesc,
	})
	if err != nil {
		s.metrics.IncPush("error")
		s.logg.Error(logCtx, "mpesa stk push failed", err)
		return nil, err
	}
	s.metrics.IncPush("accepted")

	orderID := order.ID
	payment := &models.Payment{
		OrderID:              &orderID,
		Amount:               decimal.NewFromInt(mpesa.WholeShillings(amount)),
		PaymentMethod:        enums.PaymentMethodMpesa,
		PaymentStatus:        enums.PaymentStatusPending,
		TransactionReference: resp.CheckoutRequestID,
		MerchantRequestID:    optionalString(resp.MerchantRequestID),
		PhoneNumber:          &phone,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		s.metrics.IncPersistFailure()
		s.logg.Error(s.logg.WithField(logCtx, "checkout_request_id", resp.CheckoutRequestID),
			"failed to persist pending payment after stk push", err)
		return resp, nil
	}

	s.logg.Info(s.logg.WithField(logCtx, "checkout_request_id", resp.CheckoutRequestID), "mpesa stk push accepted")
	return resp, nil
}

// defaultAccountReference derives a short reference from the order id when the client sends none.
func defaultAccountReference(value string, orderID uuid.UUID) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	compact := strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", ""))
	return "FL" + compact[:10]
}
