package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/farmlink-backend/internal/checkout"
	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

type stubCheckout struct {
	placed   checkout.PlaceOrderInput
	checkout checkout.CheckoutInput
	err      error
}

func (s *stubCheckout) PlaceOrder(_ context.Context, in checkout.PlaceOrderInput) (*checkout.PlacedOrder, error) {
	s.placed = in
	if s.err != nil {
		return nil, s.err
	}
	return &checkout.PlacedOrder{Order: &orders.OrderDetail{ID: uuid.New(), Status: enums.OrderStatusPending}}, nil
}

func (s *stubCheckout) Checkout(_ context.Context, in checkout.CheckoutInput) (*checkout.CheckoutResult, error) {
	s.checkout = in
	if s.err != nil {
		return nil, s.err
	}
	return &checkout.CheckoutResult{Order: &orders.OrderDetail{ID: uuid.New(), Status: enums.OrderStatusPending}}, nil
}

type stubOrders struct {
	buyerID uuid.UUID
	orderID uuid.UUID
	err     error
}

func (s *stubOrders) Detail(_ context.Context, buyerID, orderID uuid.UUID) (*orders.OrderDetail, error) {
	s.buyerID, s.orderID = buyerID, orderID
	if s.err != nil {
		return nil, s.err
	}
	return &orders.OrderDetail{ID: orderID, BuyerID: buyerID}, nil
}

func (s *stubOrders) Cancel(ctx context.Context, buyerID, orderID uuid.UUID) (*orders.OrderDetail, error) {
	detail, err := s.Detail(ctx, buyerID, orderID)
	if detail != nil {
		detail.Status = enums.OrderStatusCancelled
	}
	return detail, err
}

func (s *stubOrders) RequestReceipt(_ context.Context, buyerID, orderID uuid.UUID) (*orders.ReceiptRequest, error) {
	s.buyerID, s.orderID = buyerID, orderID
	if s.err != nil {
		return nil, s.err
	}
	return &orders.ReceiptRequest{OrderID: orderID, PaymentID: uuid.New(), RequestedAt: time.Now().UTC()}, nil
}

func withOrderParam(req *http.Request, orderID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestBuyerCheckoutMapsPayload(t *testing.T) {
	t.Parallel()

	svc := &stubCheckout{}
	buyerID := uuid.New()
	productID := uuid.New()
	payload := `{"items":[{"product_id":"` + productID.String() + `","quantity":3,"unit_price":"100.00"}],` +
		`"delivery_address":"  Thika Road  ","payment_method":"mpesa","phone":"0712345678","account_reference":"FARM"}`
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/api/buyer/checkout", strings.NewReader(payload)), buyerID)
	resp := httptest.NewRecorder()

	BuyerCheckout(svc, logger.Nop()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, buyerID, svc.checkout.BuyerID)
	assert.Equal(t, "Thika Road", svc.checkout.DeliveryAddress)
	assert.Equal(t, enums.PaymentMethodMpesa, svc.checkout.PaymentMethod)
	assert.Equal(t, "FARM", svc.checkout.AccountReference)
	require.Len(t, svc.checkout.Items, 1)
	assert.Equal(t, productID, svc.checkout.Items[0].ProductID)
	assert.Equal(t, 3, svc.checkout.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("100").Equal(svc.checkout.Items[0].UnitPrice))
}

func TestBuyerCreateOrderValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no items":      `{"items":[],"delivery_address":"x","payment_method":"mpesa"}`,
		"bad method":    `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"delivery_address":"x","payment_method":"card"}`,
		"zero quantity": `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":0}],"delivery_address":"x","payment_method":"mpesa"}`,
		"unknown field": `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"delivery_address":"x","payment_method":"mpesa","coupon":"x"}`,
		"no address":    `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"payment_method":"mpesa"}`,
	}
	for name, payload := range cases {
		svc := &stubCheckout{}
		req := withBuyer(httptest.NewRequest(http.MethodPost, "/api/buyer/orders", strings.NewReader(payload)), uuid.New())
		resp := httptest.NewRecorder()

		BuyerCreateOrder(svc, logger.Nop()).ServeHTTP(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code, name)
		assert.Equal(t, uuid.Nil, svc.placed.BuyerID, name)
	}
}

func TestBuyerCreateOrderInsufficientStock(t *testing.T) {
	t.Parallel()

	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
		WithDetails(map[string]any{"available": 2})}
	payload := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":3}],"delivery_address":"x","payment_method":"cash_on_delivery"}`
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/api/buyer/orders", strings.NewReader(payload)), uuid.New())
	resp := httptest.NewRecorder()

	BuyerCreateOrder(svc, logger.Nop()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, "insufficient stock", body["message"])
	assert.NotNil(t, body["details"])
}

func TestBuyerOrderDetailUsesPathAndUser(t *testing.T) {
	t.Parallel()

	svc := &stubOrders{}
	buyerID := uuid.New()
	orderID := uuid.New()
	req := withBuyer(httptest.NewRequest(http.MethodGet, "/api/buyer/orders/"+orderID.String(), nil), buyerID)
	req = withOrderParam(req, orderID.String())
	resp := httptest.NewRecorder()

	BuyerOrderDetail(svc, logger.Nop()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, buyerID, svc.buyerID)
	assert.Equal(t, orderID, svc.orderID)
}

func TestBuyerOrderDetailRejectsBadID(t *testing.T) {
	t.Parallel()

	req := withBuyer(httptest.NewRequest(http.MethodGet, "/api/buyer/orders/nope", nil), uuid.New())
	req = withOrderParam(req, "nope")
	resp := httptest.NewRecorder()

	BuyerOrderDetail(&stubOrders{}, logger.Nop()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBuyerCancelOrderStateConflict(t *testing.T) {
	t.Parallel()

	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")}
	orderID := uuid.New()
	req := withBuyer(httptest.NewRequest(http.MethodPut, "/api/buyer/orders/"+orderID.String()+"/cancel", nil), uuid.New())
	req = withOrderParam(req, orderID.String())
	resp := httptest.NewRecorder()

	BuyerCancelOrder(svc, logger.Nop()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "order can no longer be cancelled", decodeBody(t, resp)["message"])
}

func TestBuyerRequestReceiptAccepted(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/api/buyer/orders/"+orderID.String()+"/receipt", nil), uuid.New())
	req = withOrderParam(req, orderID.String())
	resp := httptest.NewRecorder()

	BuyerRequestReceipt(&stubOrders{}, logger.Nop()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	data, _ := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, orderID.String(), data["order_id"])
}
