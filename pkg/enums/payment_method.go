package enums

type PaymentMethod string

const (
	PaymentMethodMpesa          PaymentMethod = "mpesa"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

var paymentMethods = set[PaymentMethod]{PaymentMethodMpesa, PaymentMethodCashOnDelivery}

func (p PaymentMethod) String() string { return string(p) }
func (p PaymentMethod) IsValid() bool  { return paymentMethods.has(p) }

// RequiresPush reports whether checkout must prompt the buyer's phone.
func (p PaymentMethod) RequiresPush() bool { return p == PaymentMethodMpesa }
