package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_reservations_total",
			Help: "Capacity reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	reserveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_core_reserve_duration_seconds",
			Help:    "Latency of the atomic reserve statement",
			Buckets: prometheus.DefBuckets,
		},
	)

	releases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_releases_total",
			Help: "Capacity releases by outcome",
		},
		[]string{"outcome"},
	)

	bookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_booking_transitions_total",
			Help: "Booking state transitions by target status",
		},
		[]string{"status"},
	)

	paymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_payment_verifications_total",
			Help: "Payment verification results by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_refunds_total",
			Help: "Refund attempts by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	commissionsAccrued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_core_commissions_accrued_total",
			Help: "Commissions created from confirmed bookings",
		},
	)

	payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_payouts_total",
			Help: "Commission payouts by status",
		},
		[]string{"status"},
	)

	invariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_core_invariant_violations_total",
			Help: "Bookkeeping invariant violations detected at runtime",
		},
		[]string{"kind"},
	)
)

// ObserveReservation records one reserve attempt and its latency
func ObserveReservation(outcome string, seconds float64) {
	reservations.WithLabelValues(outcome).Inc()
	reserveDuration.Observe(seconds)
}

// ObserveRelease records one release
func ObserveRelease(outcome string) {
	releases.WithLabelValues(outcome).Inc()
}

// ObserveBookingTransition records a booking entering a status
func ObserveBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// ObservePaymentVerification records a verify outcome
func ObservePaymentVerification(gateway, outcome string) {
	paymentVerifications.WithLabelValues(gateway, outcome).Inc()
}

// ObserveRefund records a refund outcome
func ObserveRefund(gateway, outcome string) {
	refunds.WithLabelValues(gateway, outcome).Inc()
}

// ObserveCommissionAccrued records a new commission
func ObserveCommissionAccrued() {
	commissionsAccrued.Inc()
}

// ObservePayout records a payout entering a status
func ObservePayout(status string) {
	payouts.WithLabelValues(status).Inc()
}

// ObserveInvariantViolation records a detected double-bookkeeping bug
func ObserveInvariantViolation(kind string) {
	invariantViolations.WithLabelValues(kind).Inc()
}
