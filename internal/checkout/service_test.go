package checkout

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/payments"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/db/dbtest"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

type stubGateway struct {
	configErr error
	pushErr   error
	pushes    int
}

func (s *stubGateway) CheckPushConfig() error { return s.configErr }

func (s *stubGateway) InitiatePush(context.Context, mpesa.PushRequest) (*mpesa.PushResponse, error) {
	s.pushes++
	if s.pushErr != nil {
		return nil, s.pushErr
	}
	return &mpesa.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_checkout",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func newCheckoutService(t *testing.T, gateway *stubGateway) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	ordersRepo := orders.NewRepository(conn)
	push, err := payments.NewPushService(gateway, payments.NewRepository(conn), ordersRepo, nil, logger.Nop())
	require.NoError(t, err)
	svc, err := NewService(Params{
		Tx:             client,
		Products:       NewRepository(conn),
		Orders:         ordersRepo,
		Reservations:   reservations.NewService(logger.Nop(), nil),
		Push:           push,
		Outbox:         outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		ReservationTTL: 15 * time.Minute,
		Logger:         logger.Nop(),
	})
	require.NoError(t, err)
	return svc, conn
}

func mpesaInput(productID uuid.UUID, qty int) CheckoutInput {
	return CheckoutInput{PlaceOrderInput: PlaceOrderInput{
		BuyerID:         uuid.New(),
		Items:           []ItemInput{{ProductID: productID, Quantity: qty, UnitPrice: decimal.RequireFromString("100.00")}},
		DeliveryAddress: "Thika Road, Nairobi",
		PaymentMethod:   enums.PaymentMethodMpesa,
		Phone:           "0712345678",
	}}
}

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestCheckoutReservesAndPushes(t *testing.T) {
	gateway := &stubGateway{}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Sukuma wiki", 10, "100.00")

	before := time.Now().UTC()
	result, err := svc.Checkout(context.Background(), mpesaInput(product.ID, 3))
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "ws_CO_checkout", result.Payment.CheckoutRequestID)
	assert.Equal(t, 1, gateway.pushes)

	assert.Equal(t, 7, dbtest.ProductStock(t, conn, product.ID))
	assert.Equal(t, enums.OrderStatusPending, result.Order.Status)
	assert.Equal(t, enums.OrderPaymentPending, result.Order.PaymentStatus)
	assert.Equal(t, "300", result.Order.TotalAmount.String())
	require.NotNil(t, result.Order.PhoneNumber)
	assert.Equal(t, "254712345678", *result.Order.PhoneNumber)
	require.NotNil(t, result.Order.Reservation)
	assert.WithinDuration(t, before.Add(15*time.Minute), result.Order.Reservation.ExpiresAt, 5*time.Second)

	var payment models.Payment
	require.NoError(t, conn.First(&payment, "transaction_reference = ?", "ws_CO_checkout").Error)
	require.NotNil(t, payment.OrderID)
	assert.Equal(t, result.Order.ID, *payment.OrderID)
	assert.Equal(t, enums.PaymentStatusPending, payment.PaymentStatus)

	var event models.OutboxEvent
	require.NoError(t, conn.First(&event, "event_type = ?", enums.EventOrderCreated).Error)
	assert.Equal(t, result.Order.ID, event.AggregateID)
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	gateway := &stubGateway{}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Avocado", 2, "100.00")

	_, err := svc.Checkout(context.Background(), mpesaInput(product.ID, 3))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	assert.Equal(t, http.StatusConflict, pkgerrors.As(err).HTTPStatus())

	assert.Equal(t, 2, dbtest.ProductStock(t, conn, product.ID))
	assert.Zero(t, countRows(t, conn, &models.Order{}))
	assert.Zero(t, countRows(t, conn, &models.OrderReservation{}))
	assert.Zero(t, countRows(t, conn, &models.OutboxEvent{}))
	assert.Zero(t, gateway.pushes)
}

func TestCheckoutConfigCheckedBeforeMutation(t *testing.T) {
	gateway := &stubGateway{configErr: pkgerrors.New(pkgerrors.CodeConfiguration, "M-Pesa configuration incomplete")}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Maize", 10, "100.00")

	_, err := svc.Checkout(context.Background(), mpesaInput(product.ID, 1))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConfiguration, pkgerrors.As(err).Code())
	assert.Equal(t, 10, dbtest.ProductStock(t, conn, product.ID))
	assert.Zero(t, countRows(t, conn, &models.Order{}))
}

func TestCheckoutRejectsInvalidInput(t *testing.T) {
	gateway := &stubGateway{}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Beans", 10, "100.00")

	badPhone := mpesaInput(product.ID, 1)
	badPhone.Phone = "12345"
	noAddress := mpesaInput(product.ID, 1)
	noAddress.DeliveryAddress = "  "
	badMethod := mpesaInput(product.ID, 1)
	badMethod.PaymentMethod = "card"
	noItems := mpesaInput(product.ID, 1)
	noItems.Items = nil

	for name, input := range map[string]CheckoutInput{
		"phone": badPhone, "address": noAddress, "method": badMethod, "items": noItems,
	} {
		_, err := svc.Checkout(context.Background(), input)
		require.Error(t, err, name)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code(), name)
	}
	assert.Equal(t, 10, dbtest.ProductStock(t, conn, product.ID))
	assert.Zero(t, countRows(t, conn, &models.Order{}))
}

func TestCheckoutRejectsStalePrice(t *testing.T) {
	svc, conn := newCheckoutService(t, &stubGateway{})
	product := dbtest.SeedProduct(t, conn, "Tomatoes", 10, "120.00")

	_, err := svc.Checkout(context.Background(), mpesaInput(product.ID, 1))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 10, dbtest.ProductStock(t, conn, product.ID))
}

func TestCheckoutCashOnDeliverySkipsPush(t *testing.T) {
	gateway := &stubGateway{}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Onions", 10, "100.00")

	input := mpesaInput(product.ID, 4)
	input.PaymentMethod = enums.PaymentMethodCashOnDelivery
	input.Phone = ""

	result, err := svc.Checkout(context.Background(), input)
	require.NoError(t, err)
	assert.Nil(t, result.Payment)
	assert.Zero(t, gateway.pushes)
	assert.Equal(t, enums.OrderStatusConfirmed, result.Order.Status)
	assert.Nil(t, result.Order.Reservation)
	assert.Equal(t, 6, dbtest.ProductStock(t, conn, product.ID))
	assert.Zero(t, countRows(t, conn, &models.OrderReservation{}))
}

func TestCheckoutProviderFailureKeepsReservation(t *testing.T) {
	gateway := &stubGateway{pushErr: pkgerrors.New(pkgerrors.CodeUpstream, "STK push rejected").
		WithHTTPStatus(http.StatusBadRequest).
		WithDetails(map[string]any{"errorCode": "400.002.02"})}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Kale", 10, "100.00")

	_, err := svc.Checkout(context.Background(), mpesaInput(product.ID, 2))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeUpstream, typed.Code())
	assert.Equal(t, http.StatusBadRequest, typed.HTTPStatus())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, details["order_id"])

	assert.Equal(t, 8, dbtest.ProductStock(t, conn, product.ID))
	assert.Equal(t, int64(1), countRows(t, conn, &models.OrderReservation{}))
	assert.Zero(t, countRows(t, conn, &models.Payment{}))
}

func TestPlaceOrderDoesNotPush(t *testing.T) {
	gateway := &stubGateway{}
	svc, conn := newCheckoutService(t, gateway)
	product := dbtest.SeedProduct(t, conn, "Peas", 10, "100.00")

	placed, err := svc.PlaceOrder(context.Background(), mpesaInput(product.ID, 5).PlaceOrderInput)
	require.NoError(t, err)
	assert.Zero(t, gateway.pushes)
	assert.Equal(t, 5, dbtest.ProductStock(t, conn, product.ID))
	require.Len(t, placed.Order.Items, 1)
	assert.Equal(t, 5, placed.Order.Items[0].QuantityOrdered)
}
