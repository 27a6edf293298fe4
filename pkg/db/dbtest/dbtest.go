// Package dbtest opens throwaway sqlite databases carrying the reservation and
// payment tables so repository and service tests can run without Postgres.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price_kes TEXT NOT NULL,
		quantity_available INTEGER NOT NULL CHECK (quantity_available >= 0),
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		delivery_address TEXT NOT NULL,
		phone_number TEXT,
		cancel_reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity_ordered INTEGER NOT NULL CHECK (quantity_ordered > 0),
		unit_price TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE order_reservations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		released BOOLEAN NOT NULL DEFAULT 0,
		released_at DATETIME,
		release_reason TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		order_id TEXT REFERENCES orders(id),
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		transaction_reference TEXT NOT NULL UNIQUE,
		merchant_request_id TEXT,
		mpesa_transaction_id TEXT,
		phone_number TEXT,
		result_code INTEGER,
		result_desc TEXT,
		payment_date DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_callbacks (
		id TEXT PRIMARY KEY,
		checkout_request_id TEXT NOT NULL,
		merchant_request_id TEXT,
		result_code INTEGER NOT NULL,
		result_desc TEXT,
		outcome TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		failed_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// Open returns an isolated in-memory database with every table created. The
// pool is pinned to one connection, so callers must not touch the returned
// handle from inside a transaction opened on it.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:farmlink_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in the transaction-aware client.
func OpenClient(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}

// SeedProduct inserts a product with the given stock and unit price.
func SeedProduct(t testing.TB, conn *gorm.DB, name string, qty int, price string) models.Product {
	t.Helper()
	product := models.Product{
		FarmerID:          uuid.New(),
		Name:              name,
		PriceKES:          decimal.RequireFromString(price),
		QuantityAvailable: qty,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// ProductStock reads the current quantity_available for a product.
func ProductStock(t testing.TB, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.QuantityAvailable
}

// PendingOrder describes an order seeded directly in the reserved state.
type PendingOrder struct {
	BuyerID   uuid.UUID
	Items     map[uuid.UUID]int
	Total     string
	ExpiresAt time.Time
	Phone     string
}

// SeedPendingOrder writes an order, its items and an active reservation without
// touching product stock, mirroring the state right after checkout committed
// for stock that the caller has already accounted for.
func SeedPendingOrder(t testing.TB, conn *gorm.DB, in PendingOrder) models.Order {
	t.Helper()
	if in.BuyerID == uuid.Nil {
		in.BuyerID = uuid.New()
	}
	if in.Total == "" {
		in.Total = "0"
	}
	var phone *string
	if in.Phone != "" {
		phone = &in.Phone
	}
	order := models.Order{
		BuyerID:         in.BuyerID,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentPending,
		PaymentMethod:   enums.PaymentMethodMpesa,
		TotalAmount:     decimal.RequireFromString(in.Total),
		DeliveryAddress: "Kiambu Road, Nairobi",
		PhoneNumber:     phone,
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	for productID, qty := range in.Items {
		item := models.OrderItem{
			OrderID:         order.ID,
			ProductID:       productID,
			QuantityOrdered: qty,
			UnitPrice:       decimal.NewFromInt(100),
		}
		if err := conn.Create(&item).Error; err != nil {
			t.Fatalf("seed order item: %v", err)
		}
		order.Items = append(order.Items, item)
	}
	reservation := models.OrderReservation{
		OrderID:   order.ID,
		ExpiresAt: in.ExpiresAt.UTC(),
	}
	if err := conn.Create(&reservation).Error; err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	order.Reservation = &reservation
	return order
}

// SeedPendingPayment records an outstanding STK push for an order.
func SeedPendingPayment(t testing.TB, conn *gorm.DB, orderID uuid.UUID, checkoutRequestID, amount string) models.Payment {
	t.Helper()
	id := orderID
	payment := models.Payment{
		OrderID:              &id,
		Amount:               decimal.RequireFromString(amount),
		PaymentMethod:        enums.PaymentMethodMpesa,
		PaymentStatus:        enums.PaymentStatusPending,
		TransactionReference: checkoutRequestID,
	}
	if err := conn.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return payment
}
