package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/db/dbtest"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

type reconcilerHarness struct {
	rec  *Reconciler
	conn *gorm.DB
	reg  *prometheus.Registry
}

func newReconcilerHarness(t *testing.T) *reconcilerHarness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	reg := prometheus.NewRegistry()
	rec, err := NewReconciler(ReconcilerParams{
		Tx:       client,
		Payments: NewRepository(conn),
		Orders:   orders.NewRepository(conn),
		Releaser: reservations.NewService(logger.Nop(), nil),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Metrics:  metrics.NewPaymentMetrics(reg),
	})
	require.NoError(t, err)
	return &reconcilerHarness{rec: rec, conn: conn, reg: reg}
}

// seedReservedOrder mirrors the state right after checkout: 10 units on hand, 3 held.
func (h *reconcilerHarness) seedReservedOrder(t *testing.T, checkoutRequestID string) (models.Product, models.Order) {
	t.Helper()
	product := dbtest.SeedProduct(t, h.conn, "Sukuma wiki", 7, "100.00")
	order := dbtest.SeedPendingOrder(t, h.conn, dbtest.PendingOrder{
		Items:     map[uuid.UUID]int{product.ID: 3},
		Total:     "300.00",
		ExpiresAt: time.Now().Add(15 * time.Minute),
		Phone:     "254708374149",
	})
	dbtest.SeedPendingPayment(t, h.conn, order.ID, checkoutRequestID, "300")
	return product, order
}

func successBody(checkoutRequestID string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":300.00},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"Balance"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254708374149}
		]}}}}`, checkoutRequestID))
}

func failureBody(checkoutRequestID string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":"1032",
		"ResultDesc":"Request cancelled by user"}}}`, checkoutRequestID))
}

func (h *reconcilerHarness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := h.conn.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (h *reconcilerHarness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestSuccessCallbackSettlesOrder(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_A")

	outcome := h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_A"))
	require.Equal(t, enums.CallbackOutcomeCompleted, outcome)

	assert.Equal(t, 7, dbtest.ProductStock(t, h.conn, product.ID))

	var reloaded models.Order
	require.NoError(t, h.conn.Preload("Reservation").First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderPaymentPaid, reloaded.PaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
	require.NotNil(t, reloaded.Reservation)
	assert.True(t, reloaded.Reservation.Released)
	require.NotNil(t, reloaded.Reservation.ReleaseReason)
	assert.Equal(t, enums.ReleaseReasonPaid, *reloaded.Reservation.ReleaseReason)

	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "transaction_reference = ?", "ws_CO_A").Error)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.PaymentStatus)
	require.NotNil(t, payment.MpesaTransactionID)
	assert.Equal(t, "NLJ7RT61SV", *payment.MpesaTransactionID)
	require.NotNil(t, payment.PaymentDate)
	assert.Equal(t, time.Date(2019, 12, 19, 7, 21, 15, 0, time.UTC), payment.PaymentDate.UTC())
	require.NotNil(t, payment.ResultCode)
	assert.Equal(t, 0, *payment.ResultCode)

	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
	assert.Equal(t, int64(1), h.count(t, &models.PaymentCallback{}, "outcome = ?", enums.CallbackOutcomeCompleted))
}

func TestDuplicateSuccessCallbackIsNoop(t *testing.T) {
	h := newReconcilerHarness(t)
	product, _ := h.seedReservedOrder(t, "ws_CO_dup")

	require.Equal(t, enums.CallbackOutcomeCompleted, h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_dup")))
	require.Equal(t, enums.CallbackOutcomeDuplicate, h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_dup")))
	require.Equal(t, enums.CallbackOutcomeDuplicate, h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_dup")))

	assert.Equal(t, 7, dbtest.ProductStock(t, h.conn, product.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
	assert.Equal(t, int64(0), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderCancelled))
	assert.Equal(t, int64(3), h.count(t, &models.PaymentCallback{}, ""))
}

func TestFailureCallbackCancelsOrderAndRestoresStock(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_B")

	outcome := h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_B"))
	require.Equal(t, enums.CallbackOutcomeFailed, outcome)

	assert.Equal(t, 10, dbtest.ProductStock(t, h.conn, product.ID))

	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
	assert.Equal(t, enums.OrderPaymentFailed, reloaded.PaymentStatus)
	require.NotNil(t, reloaded.CancelReason)
	assert.Equal(t, "payment failed: Request cancelled by user", *reloaded.CancelReason)

	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "transaction_reference = ?", "ws_CO_B").Error)
	assert.Equal(t, enums.PaymentStatusFailed, payment.PaymentStatus)
	require.NotNil(t, payment.ResultCode)
	assert.Equal(t, 1032, *payment.ResultCode)

	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderCancelled))

	require.Equal(t, enums.CallbackOutcomeDuplicate, h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_B")))
	assert.Equal(t, 10, dbtest.ProductStock(t, h.conn, product.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderCancelled))
}

func TestFailureAfterExpiryKeepsStockOnce(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_expired")

	releaser := reservations.NewService(logger.Nop(), nil)
	_, err := releaser.Release(context.Background(), h.conn, order.ID, enums.ReleaseReasonExpired)
	require.NoError(t, err)
	require.Equal(t, 10, dbtest.ProductStock(t, h.conn, product.ID))

	outcome := h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_expired"))
	require.Equal(t, enums.CallbackOutcomeFailed, outcome)
	assert.Equal(t, 10, dbtest.ProductStock(t, h.conn, product.ID))
	assert.Equal(t, int64(0), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderCancelled))
}

func TestUnmatchedSuccessRecordsFallbackPayment(t *testing.T) {
	h := newReconcilerHarness(t)

	outcome := h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_ghost"))
	require.Equal(t, enums.CallbackOutcomeUnmatched, outcome)

	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "transaction_reference = ?", "ws_CO_ghost").Error)
	assert.Nil(t, payment.OrderID)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.PaymentStatus)
	assert.Equal(t, "300", payment.Amount.String())
	require.NotNil(t, payment.PhoneNumber)
	assert.Equal(t, "254708374149", *payment.PhoneNumber)

	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentUnmatched))
	assert.Equal(t, 1.0, h.counter(t, "farmlink_mpesa_unmatched_callbacks_total"))

	require.Equal(t, enums.CallbackOutcomeDuplicate, h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_ghost")))
	assert.Equal(t, int64(1), h.count(t, &models.Payment{}, ""))
}

func TestUnmatchedFailureIsCountedOnly(t *testing.T) {
	h := newReconcilerHarness(t)

	outcome := h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_nobody"))
	require.Equal(t, enums.CallbackOutcomeUnmatchedFailure, outcome)
	assert.Equal(t, int64(0), h.count(t, &models.Payment{}, ""))
	assert.Equal(t, 1.0, h.counter(t, "farmlink_mpesa_unmatched_callbacks_total"))
	assert.Equal(t, int64(1), h.count(t, &models.PaymentCallback{}, "outcome = ?", enums.CallbackOutcomeUnmatchedFailure))
}

func TestLatePaymentAfterCancellation(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_late")

	releaser := reservations.NewService(logger.Nop(), nil)
	_, err := releaser.Release(context.Background(), h.conn, order.ID, enums.ReleaseReasonExpired)
	require.NoError(t, err)
	cancelled, err := orders.NewRepository(h.conn).CancelIfPending(context.Background(), order.ID, "reservation expired")
	require.NoError(t, err)
	require.True(t, cancelled)

	outcome := h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_late"))
	require.Equal(t, enums.CallbackOutcomeLatePayment, outcome)

	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
	assert.Equal(t, enums.OrderPaymentPaid, reloaded.PaymentStatus)
	assert.Equal(t, 10, dbtest.ProductStock(t, h.conn, product.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestInvalidCallbackIsAcknowledgedAndLogged(t *testing.T) {
	h := newReconcilerHarness(t)

	assert.Equal(t, enums.CallbackOutcomeInvalid, h.rec.HandleRawCallback(context.Background(), []byte("not json")))
	assert.Equal(t, enums.CallbackOutcomeInvalid, h.rec.HandleRawCallback(context.Background(), []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)))
	assert.Equal(t, int64(2), h.count(t, &models.PaymentCallback{}, "outcome = ?", enums.CallbackOutcomeInvalid))
}

func TestCallbackWithoutResultCodeLeavesOrderUntouched(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_9")

	bodies := [][]byte{
		[]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9"}}}`),
		[]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9","ResultCode":null}}}`),
	}
	for _, body := range bodies {
		assert.Equal(t, enums.CallbackOutcomeInvalid, h.rec.HandleRawCallback(context.Background(), body))
	}

	assert.Equal(t, 7, dbtest.ProductStock(t, h.conn, product.ID))
	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Equal(t, enums.OrderPaymentPending, reloaded.PaymentStatus)

	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "transaction_reference = ?", "ws_CO_9").Error)
	assert.Equal(t, enums.PaymentStatusPending, payment.PaymentStatus)
	assert.Equal(t, int64(0), h.count(t, &models.OutboxEvent{}, ""))
}

func TestFailureKeepsOrderOpenWhileAnotherPushIsPending(t *testing.T) {
	h := newReconcilerHarness(t)
	product, order := h.seedReservedOrder(t, "ws_CO_first")
	dbtest.SeedPendingPayment(t, h.conn, order.ID, "ws_CO_second", "300")

	require.Equal(t, enums.CallbackOutcomeFailed, h.rec.HandleRawCallback(context.Background(), failureBody("ws_CO_first")))

	assert.Equal(t, 7, dbtest.ProductStock(t, h.conn, product.ID))
	var reloaded models.Order
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Equal(t, int64(0), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderCancelled))

	require.Equal(t, enums.CallbackOutcomeCompleted, h.rec.HandleRawCallback(context.Background(), successBody("ws_CO_second")))
	require.NoError(t, h.conn.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
	assert.Equal(t, enums.OrderPaymentPaid, reloaded.PaymentStatus)
	assert.Equal(t, 7, dbtest.ProductStock(t, h.conn, product.ID))
}
