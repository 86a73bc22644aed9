package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector exported by the service.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Dispatch
	DispatchTotal      *prometheus.CounterVec
	BookingTransitions *prometheus.CounterVec
	AcceptConflicts    prometheus.Counter

	// OTP
	OTPGenerated *prometheus.CounterVec
	OTPVerify    *prometheus.CounterVec

	// Payments
	PaymentNotifications *prometheus.CounterVec

	// Webhooks
	WebhookDeliveries *prometheus.CounterVec
	WebhookLatency    prometheus.Histogram
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route pattern, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_dispatch_total",
				Help: "Booking dispatch decisions by result (preselected, matched, unassigned, manual)",
			},
			[]string{"result"},
		),

		BookingTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_transitions_total",
				Help: "Booking status transitions by target status",
			},
			[]string{"status"},
		),

		AcceptConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booking_accept_conflicts_total",
				Help: "Job acceptance attempts lost to a concurrent winner",
			},
		),

		OTPGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_generated_total",
				Help: "OTP codes generated by phase",
			},
			[]string{"phase"},
		),

		OTPVerify: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_verify_total",
				Help: "OTP verification results by phase (verified, mismatch, locked, expired)",
			},
			[]string{"phase", "result"},
		),

		PaymentNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_notifications_total",
				Help: "Gateway notifications by source and reconciliation outcome",
			},
			[]string{"source", "outcome"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Outbound webhook attempts by event and success",
			},
			[]string{"event", "success"},
		),

		WebhookLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Outbound webhook round-trip time",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
			},
		),
	}
}

// Nop returns collectors registered on a private registry, for callers that
// do not expose metrics.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) RecordHTTP(route, method string, code int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
}

func (m *Metrics) RecordDispatch(result string) {
	m.DispatchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	m.BookingTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordOTPVerify(phase, result string) {
	m.OTPVerify.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) RecordPaymentNotification(source, outcome string) {
	m.PaymentNotifications.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordWebhook(event string, success bool, seconds float64) {
	m.WebhookDeliveries.WithLabelValues(event, strconv.FormatBool(success)).Inc()
	m.WebhookLatency.Observe(seconds)
}
