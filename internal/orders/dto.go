package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
)

// OrderDetail is what a buyer polls after an STK push.
type OrderDetail struct {
	ID              uuid.UUID                `json:"id"`
	BuyerID         uuid.UUID                `json:"buyer_id"`
	Status          enums.OrderStatus        `json:"status"`
	PaymentStatus   enums.OrderPaymentStatus `json:"payment_status"`
	PaymentMethod   enums.PaymentMethod      `json:"payment_method"`
	TotalAmount     decimal.Decimal          `json:"total_amount"`
	DeliveryAddress string                   `json:"delivery_address"`
	PhoneNumber     *string                  `json:"phone_number,omitempty"`
	CancelReason    *string                  `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Items           []OrderItemDetail        `json:"items"`
	Reservation     *ReservationDetail       `json:"reservation,omitempty"`
	LatestPayment   *PaymentSummary          `json:"latest_payment,omitempty"`
}

type OrderItemDetail struct {
	ID              uuid.UUID       `json:"id"`
	ProductID       uuid.UUID       `json:"product_id"`
	QuantityOrdered int             `json:"quantity_ordered"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type ReservationDetail struct {
	ID            uuid.UUID            `json:"id"`
	ExpiresAt     time.Time            `json:"expires_at"`
	Released      bool                 `json:"released"`
	ReleasedAt    *time.Time           `json:"released_at,omitempty"`
	ReleaseReason *enums.ReleaseReason `json:"release_reason,omitempty"`
}

// PaymentSummary is the latest payment attempt shown alongside an order.
type PaymentSummary struct {
	ID                   uuid.UUID           `json:"id"`
	Status               enums.PaymentStatus `json:"status"`
	Amount               decimal.Decimal     `json:"amount"`
	TransactionReference string              `json:"transaction_reference"`
	MpesaTransactionID   *string             `json:"mpesa_transaction_id,omitempty"`
	ResultCode           *int                `json:"result_code,omitempty"`
	ResultDesc           *string             `json:"result_desc,omitempty"`
	PaymentDate          *time.Time          `json:"payment_date,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

// NewOrderDetail flattens an order row, its preloaded associations and the latest payment.
func NewOrderDetail(order *models.Order, payment *models.Payment) *OrderDetail {
	if order == nil {
		return nil
	}
	detail := &OrderDetail{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		TotalAmount:     order.TotalAmount,
		DeliveryAddress: order.DeliveryAddress,
		PhoneNumber:     order.PhoneNumber,
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		Items:           make([]OrderItemDetail, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, OrderItemDetail{
			ID:              item.ID,
			ProductID:       item.ProductID,
			QuantityOrdered: item.QuantityOrdered,
			UnitPrice:       item.UnitPrice,
			LineTotal:       item.LineTotal(),
		})
	}
	if r := order.Reservation; r != nil {
		detail.Reservation = &ReservationDetail{
			ID:            r.ID,
			ExpiresAt:     r.ExpiresAt,
			Released:      r.Released,
			ReleasedAt:    r.ReleasedAt,
			ReleaseReason: r.ReleaseReason,
		}
	}
	if payment != nil {
		detail.LatestPayment = &PaymentSummary{
			ID:                   payment.ID,
			Status:               payment.PaymentStatus,
			Amount:               payment.Amount,
			TransactionReference: payment.TransactionReference,
			MpesaTransactionID:   payment.MpesaTransactionID,
			ResultCode:           payment.ResultCode,
			ResultDesc:           payment.ResultDesc,
			PaymentDate:          payment.PaymentDate,
			CreatedAt:            payment.CreatedAt,
		}
	}
	return detail
}
