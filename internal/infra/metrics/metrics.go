// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(postbacksTotal, deliveriesTotal, partnerRequestsTotal)
}

var (
	postbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbacks_total",
			Help: "Tracker postbacks by routing result.",
		},
		[]string{"route"}, // alias|rule|default|invalid|unauthorized
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Dispatcher outcomes per notification kind.",
		},
		[]string{"kind", "outcome"}, // outcome: sent|would_send|no_recipient|failed|skipped
	)

	partnerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_requests_total",
			Help: "Requests to the partner backend by path group and status class.",
		},
		[]string{"op", "status"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// -------- Relay helpers --------

func IncPostback(route string) {
	postbacksTotal.WithLabelValues(norm(route)).Inc()
}

func IncNotification(kind, outcome string) {
	deliveriesTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func IncPartnerRequest(op, status string) {
	partnerRequestsTotal.WithLabelValues(norm(op), norm(status)).Inc()
}
