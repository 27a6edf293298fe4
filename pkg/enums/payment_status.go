package enums

// PaymentStatus is the state of one STK push attempt. Completed and failed
// are terminal.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var paymentStatuses = set[PaymentStatus]{PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed}

func (p PaymentStatus) String() string { return string(p) }
func (p PaymentStatus) IsValid() bool  { return paymentStatuses.has(p) }

func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusCompleted || p == PaymentStatusFailed
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	return paymentStatuses.parse("payment status", raw)
}
