package enums

// OrderStatus is the fulfilment lifecycle of a buyer order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

var orderStatuses = set[OrderStatus]{OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled, OrderStatusCompleted}

func (s OrderStatus) String() string { return string(s) }
func (s OrderStatus) IsValid() bool  { return orderStatuses.has(s) }

// OrderPaymentStatus is the payment view of an order that clients poll.
type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "pending"
	OrderPaymentPaid    OrderPaymentStatus = "paid"
	OrderPaymentFailed  OrderPaymentStatus = "failed"
)

var orderPaymentStatuses = set[OrderPaymentStatus]{OrderPaymentPending, OrderPaymentPaid, OrderPaymentFailed}

func (s OrderPaymentStatus) String() string { return string(s) }
func (s OrderPaymentStatus) IsValid() bool  { return orderPaymentStatuses.has(s) }
