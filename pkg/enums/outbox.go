package enums

// OutboxAggregateType is the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

var aggregateTypes = set[OutboxAggregateType]{AggregateOrder, AggregatePayment}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated     OutboxEventType = "order_created"
	EventOrderPaid        OutboxEventType = "order_paid"
	EventOrderCancelled   OutboxEventType = "order_cancelled"
	EventOrderExpired     OutboxEventType = "order_expired"
	EventPaymentUnmatched OutboxEventType = "payment_unmatched"
	EventReceiptRequested OutboxEventType = "receipt_requested"
)

var eventTypes = set[OutboxEventType]{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderExpired,
	EventPaymentUnmatched,
	EventReceiptRequested,
}

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }
