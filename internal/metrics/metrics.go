package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeAccepted    = "accepted"
	OutcomeIgnored     = "ignored"
	OutcomeMalformed   = "malformed"
	OutcomeRateLimited = "rate_limited"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_hq_events_total",
		Help: "Event submissions grouped by type and outcome",
	}, []string{"type", "outcome"})

	subscribersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ai_hq_subscribers_connected",
		Help: "Number of currently registered real-time subscribers",
	})

	deliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ai_hq_deliveries_total",
		Help: "Messages queued for delivery to subscribers",
	})

	deliveryFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_hq_delivery_faults_total",
		Help: "Deliveries skipped or failed grouped by reason",
	}, []string{"reason"})
)

// Type label values outside the known event vocabulary.
const (
	TypeOther   = "other"
	TypeUnknown = "unknown"
)

// ObserveSubmission records one submission outcome. Malformed submissions
// have no trustworthy type, so callers pass an empty string. Producers choose
// the type freely, so anything outside the known set is counted as "other".
func ObserveSubmission(eventType, outcome string) {
	eventsTotal.WithLabelValues(typeLabel(eventType), outcome).Inc()
}

func typeLabel(eventType string) string {
	switch eventType {
	case "":
		return TypeUnknown
	case "tool_start", "tool_end", "session_end":
		return eventType
	}
	return TypeOther
}

func SetSubscribers(n int) {
	subscribersConnected.Set(float64(n))
}

func ObserveDelivery() {
	deliveriesTotal.Inc()
}

// ObserveDeliveryFault counts a delivery that did not reach a subscriber.
func ObserveDeliveryFault(reason string) {
	deliveryFaultsTotal.WithLabelValues(reason).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
