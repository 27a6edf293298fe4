package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics tracks stock holds and their release.
type ReservationMetrics struct {
	released        *prometheus.CounterVec
	restoreFailures prometheus.Counter
}

// NewReservationMetrics registers the reservation metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmlink_reservations_released_total",
		Help: "Reservations flipped to released, by reason.",
	}, []string{"reason"})
	restoreFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "farmlink_reservation_restore_failures_total",
		Help: "Order items whose stock could not be restored on release.",
	})
	reg.MustRegister(released, restoreFailures)
	return &ReservationMetrics{released: released, restoreFailures: restoreFailures}
}

func (r *ReservationMetrics) IncReleased(reason string) {
	if r == nil || r.released == nil {
		return
	}
	r.released.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (r *ReservationMetrics) IncRestoreFailure() {
	if r == nil || r.restoreFailures == nil {
		return
	}
	r.restoreFailures.Inc()
}
