package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsTotal counts payment events by outcome (applied, duplicate, failed, canceled).
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Name:      "payments_total",
		Help:      "Payment events handled by outcome.",
	}, []string{"outcome"})

	// ProvisioningTotal counts calls to the VPN panel by operation and outcome.
	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Name:      "provisioning_total",
		Help:      "VPN panel operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// SweepUsersTotal counts users reconciled by the sweeper.
	SweepUsersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Name:      "sweep_users_total",
		Help:      "Users reconciled by the sweeper by outcome.",
	}, []string{"outcome"})

	// SweepDuration tracks the wall time of a full sweep.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vpnbot",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a reconciliation sweep in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// WebhookRequestsTotal counts inbound webhook requests by source and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnbot",
		Name:      "webhook_requests_total",
		Help:      "Inbound webhook requests by source and HTTP status.",
	}, []string{"source", "status"})
)

// ObserveProvisioning records the outcome of one panel call.
func ObserveProvisioning(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProvisioningTotal.WithLabelValues(operation, outcome).Inc()
}
