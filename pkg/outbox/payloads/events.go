package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// OrderItemRef is the per-line summary carried on order events.
type OrderItemRef struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderCreatedEvent is emitted once stock is reserved for a new order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	ExpiresAt     time.Time           `json:"expires_at"`
	Items         []OrderItemRef      `json:"items"`
}

// OrderPaidEvent is emitted when a success callback settles an order.
type OrderPaidEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
	LatePayment   bool            `json:"late_payment,omitempty"`
}

// OrderCancelledEvent is emitted when a failed payment or the buyer cancels an order.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	BuyerID     uuid.UUID           `json:"buyer_id"`
	Reason      enums.ReleaseReason `json:"reason"`
	ResultCode  *int                `json:"result_code,omitempty"`
	CancelledAt time.Time           `json:"cancelled_at"`
}

// OrderExpiredEvent is emitted when the sweeper cancels an unpaid order.
type OrderExpiredEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// PaymentUnmatchedEvent surfaces a successful callback with no pending push on record.
type PaymentUnmatchedEvent struct {
	PaymentID         uuid.UUID       `json:"payment_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	PhoneNumber       string          `json:"phone_number,omitempty"`
}

// ReceiptRequestedEvent asks the notification service to send a payment receipt.
type ReceiptRequestedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PhoneNumber   string          `json:"phone_number,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
}
