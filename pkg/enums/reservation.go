package enums

// ReleaseReason records which writer flipped a reservation to released.
type ReleaseReason string

const (
	ReleaseReasonPaid          ReleaseReason = "paid"
	ReleaseReasonPaymentFailed ReleaseReason = "payment_failed"
	ReleaseReasonExpired       ReleaseReason = "expired"
	ReleaseReasonCancelled     ReleaseReason = "cancelled"
)

// RestoresStock reports whether releasing for this reason returns the held units to the product.
func (r ReleaseReason) RestoresStock() bool {
	return r != ReleaseReasonPaid
}

func (r ReleaseReason) String() string {
	return string(r)
}
