package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking engine.
type BookingMetrics struct {
	bookingsStarted   *prometheus.CounterVec
	confirmations     *prometheus.CounterVec
	cancellations     *prometheus.CounterVec
	capacityConflicts prometheus.Counter
	expiredHolds      prometheus.Counter
	refundFailures    prometheus.Counter
	sweepDuration     prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "started_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "confirmations_total",
			Help:      "Booking confirmations by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Appointment cancellations by actor role",
		}, []string{"role"}),
		capacityConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "capacity_conflicts_total",
			Help:      "Reservation attempts that lost the capacity race",
		}),
		expiredHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "expired_holds_total",
			Help:      "Payment-pending reservations released by the sweeper",
		}),
		refundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "refund_failures_total",
			Help:      "Refund calls that failed and need manual follow-up",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of stale-reservation sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsStarted, m.confirmations, m.cancellations,
		m.capacityConflicts, m.expiredHolds, m.refundFailures, m.sweepDuration)
	return m
}

func (m *BookingMetrics) ObserveBookingStarted(outcome string) {
	if m == nil {
		return
	}
	m.bookingsStarted.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancellation(role string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(role).Inc()
}

func (m *BookingMetrics) ObserveCapacityConflict() {
	if m == nil {
		return
	}
	m.capacityConflicts.Inc()
}

func (m *BookingMetrics) ObserveExpiredHolds(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredHolds.Add(float64(n))
}

func (m *BookingMetrics) ObserveRefundFailure() {
	if m == nil {
		return
	}
	m.refundFailures.Inc()
}

func (m *BookingMetrics) ObserveSweepDuration(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
