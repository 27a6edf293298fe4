package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/payments"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/payloads"
)

const maxItemsPerOrder = 50

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []reservations.Line) error
	Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, ttl time.Duration) (*models.OrderReservation, error)
}

type pushInitiator interface {
	CheckConfig() error
	Initiate(ctx context.Context, in payments.PushInput) (*mpesa.PushResponse, error)
}

// Service places orders and, for M-Pesa orders, starts the STK push.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacedOrder, error)
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
}

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

// PlaceOrderInput is everything needed to create and reserve an order.
type PlaceOrderInput struct {
	BuyerID         uuid.UUID
	Items           []ItemInput
	DeliveryAddress string
	PaymentMethod   enums.PaymentMethod
	Phone           string
}

type CheckoutInput struct {
	PlaceOrderInput
	AccountReference string
	TransactionDesc  string
}

type PlacedOrder struct {
	Order *orders.OrderDetail `json:"order"`
}

type CheckoutResult struct {
	Order   *orders.OrderDetail `json:"order"`
	Payment *mpesa.PushResponse `json:"payment,omitempty"`
}

type Params struct {
	Tx             txRunner
	Products       Repository
	Orders         orders.Repository
	Reservations   stockReserver
	Push           pushInitiator
	Outbox         outboxPublisher
	ReservationTTL time.Duration
	Logger         *logger.Logger
}

type service struct {
	tx           txRunner
	products     Repository
	orders       orders.Repository
	reservations stockReserver
	push         pushInitiator
	outbox       outboxPublisher
	ttl          time.Duration
	logg         *logger.Logger
}

// NewService builds the checkout service.
func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if p.Push == nil {
		return nil, fmt.Errorf("push service required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.ReservationTTL <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:           p.Tx,
		products:     p.Products,
		orders:       p.Orders,
		reservations: p.Reservations,
		push:         p.Push,
		outbox:       p.Outbox,
		ttl:          p.ReservationTTL,
		logg:         logg,
	}, nil
}

// PlaceOrder creates the order and its items, takes the stock and records the
// reservation in one transaction.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacedOrder, error) {
	input, phone, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}
	order, err := s.place(ctx, input, phone)
	if err != nil {
		return nil, err
	}
	return &PlacedOrder{Order: orders.NewOrderDetail(order, nil)}, nil
}

// Checkout places the order and sends one STK push for M-Pesa orders. A
// provider failure leaves the order reserved; the sweeper releases it if the
// buyer never retries.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	placeInput, phone, err := normalizeInput(input.PlaceOrderInput)
	if err != nil {
		return nil, err
	}
	if placeInput.PaymentMethod.RequiresPush() {
		if err := s.push.CheckConfig(); err != nil {
			return nil, err
		}
	}

	order, err := s.place(ctx, placeInput, phone)
	if err != nil {
		return nil, err
	}
	result := &CheckoutResult{Order: orders.NewOrderDetail(order, nil)}
	if !placeInput.PaymentMethod.RequiresPush() {
		return result, nil
	}

	resp, err := s.push.Initiate(ctx, payments.PushInput{
		BuyerID:          placeInput.BuyerID,
		OrderID:          order.ID,
		Phone:            phone,
		Amount:           order.TotalAmount,
		AccountReference: input.AccountReference,
		TransactionDesc:  input.TransactionDesc,
	})
	if err != nil {
		return nil, withOrderID(err, order.ID)
	}
	result.Payment = resp
	return result, nil
}

func (s *service) place(ctx context.Context, input PlaceOrderInput, phone string) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ids := make([]uuid.UUID, 0, len(input.Items))
		for _, item := range input.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := s.products.WithTx(tx).FindProducts(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}

		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(input.Items))
		lines := make([]reservations.Line, 0, len(input.Items))
		for _, item := range input.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", item.ProductID))
			}
			if !item.UnitPrice.IsZero() && !item.UnitPrice.Equal(product.PriceKES) {
				return pkgerrors.New(pkgerrors.CodeConflict, "product price changed").WithDetails(map[string]any{
					"product_id":    product.ID.String(),
					"current_price": product.PriceKES.String(),
				})
			}
			items = append(items, models.OrderItem{
				ProductID:       product.ID,
				QuantityOrdered: item.Quantity,
				UnitPrice:       product.PriceKES,
			})
			lines = append(lines, reservations.Line{ProductID: product.ID, Quantity: item.Quantity})
			total = total.Add(product.PriceKES.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		if err := s.reservations.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		status := enums.OrderStatusPending
		if input.PaymentMethod == enums.PaymentMethodCashOnDelivery {
			status = enums.OrderStatusConfirmed
		}
		order = &models.Order{
			BuyerID:         input.BuyerID,
			Status:          status,
			PaymentStatus:   enums.OrderPaymentPending,
			PaymentMethod:   input.PaymentMethod,
			TotalAmount:     total,
			DeliveryAddress: input.DeliveryAddress,
			Items:           items,
		}
		if phone != "" {
			order.PhoneNumber = &phone
		}
		if err := s.orders.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		event := payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			PaymentMethod: order.PaymentMethod,
			TotalAmount:   order.TotalAmount,
			Items:         make([]payloads.OrderItemRef, 0, len(items)),
		}
		for _, item := range order.Items {
			event.Items = append(event.Items, payloads.OrderItemRef{
				ProductID: item.ProductID,
				Quantity:  item.QuantityOrdered,
				UnitPrice: item.UnitPrice,
			})
		}

		if input.PaymentMethod.RequiresPush() {
			reservation, err := s.reservations.Hold(ctx, tx, order.ID, s.ttl)
			if err != nil {
				return err
			}
			order.Reservation = reservation
			event.ExpiresAt = reservation.ExpiresAt
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.BuyerActor(input.BuyerID),
			Data:          event,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"payment_method": order.PaymentMethod,
		"total_amount":   order.TotalAmount.String(),
		"items":          len(order.Items),
	})
	s.logg.Info(logCtx, "order placed")
	return order, nil
}

// normalizeInput validates everything that can be checked without the
// database and returns the normalized phone.
func normalizeInput(input PlaceOrderInput) (PlaceOrderInput, string, error) {
	if input.BuyerID == uuid.Nil {
		return input, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return input, "", pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(input.Items) > maxItemsPerOrder {
		return input, "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d items per order", maxItemsPerOrder))
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return input, "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return input, "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return input, "", pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
		}
	}
	input.DeliveryAddress = strings.TrimSpace(input.DeliveryAddress)
	if input.DeliveryAddress == "" {
		return input, "", pkgerrors.New(pkgerrors.CodeValidation, "delivery address is required")
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = enums.PaymentMethodMpesa
	}
	if !input.PaymentMethod.IsValid() {
		return input, "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}

	var phone string
	if strings.TrimSpace(input.Phone) != "" || input.PaymentMethod == enums.PaymentMethodMpesa {
		normalized, ok := mpesa.NormalizePhone(input.Phone)
		if !ok {
			return input, "", pkgerrors.New(pkgerrors.CodeValidation, "invalid phone number")
		}
		phone = normalized
	}
	return input, phone, nil
}

// withOrderID keeps the provider error but tells the client which order was created.
func withOrderID(err error, orderID uuid.UUID) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stk push failed").
			WithDetails(map[string]any{"order_id": orderID.String()})
	}
	wrapped := pkgerrors.Wrap(typed.Code(), err, typed.Message()).
		WithDetails(map[string]any{"order_id": orderID.String(), "provider": typed.Details()})
	if status := typed.HTTPStatus(); status != pkgerrors.MetadataFor(typed.Code()).HTTPStatus {
		wrapped = wrapped.WithHTTPStatus(status)
	}
	return wrapped
}
