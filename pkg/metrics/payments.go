package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks STK pushes and callback reconciliation.
type PaymentMetrics struct {
	pushes          *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	unmatched       prometheus.Counter
	persistFailures prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmlink_mpesa_stk_push_total",
		Help: "STK push attempts by result.",
	}, []string{"result"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmlink_mpesa_callbacks_total",
		Help: "M-Pesa callbacks by reconciliation outcome.",
	}, []string{"outcome"})
	unmatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "farmlink_mpesa_unmatched_callbacks_total",
		Help: "Successful callbacks with no pending payment to match.",
	})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "farmlink_payment_persist_failures_total",
		Help: "Pending payment rows that could not be written after an accepted push.",
	})
	reg.MustRegister(pushes, callbacks, unmatched, persistFailures)
	return &PaymentMetrics{
		pushes:          pushes,
		callbacks:       callbacks,
		unmatched:       unmatched,
		persistFailures: persistFailures,
	}
}

// IncPush records an STK push result (accepted, rejected, error).
func (p *PaymentMetrics) IncPush(result string) {
	if p == nil || p.pushes == nil {
		return
	}
	p.pushes.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncCallback records how a callback was applied.
func (p *PaymentMetrics) IncCallback(outcome string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (p *PaymentMetrics) IncUnmatched() {
	if p == nil || p.unmatched == nil {
		return
	}
	p.unmatched.Inc()
}

func (p *PaymentMetrics) IncPersistFailure() {
	if p == nil || p.persistFailures == nil {
		return
	}
	p.persistFailures.Inc()
}
