// Package metrics defines the Prometheus metrics served on the metrics
// endpoint. All metrics register with the default registry.
//
// Naming follows Prometheus conventions: amroute_ prefix, _total suffix
// for counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsIngestedTotal counts ingested alerts by account.
	AlertsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amroute_alerts_ingested_total",
			Help: "Total alerts accepted for routing, by account.",
		},
		[]string{"account"},
	)

	// AlertGroupsRoutedTotal counts alert groups handed to group actors.
	AlertGroupsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amroute_alert_groups_routed_total",
			Help: "Total alert groups routed to group actors, by account.",
		},
		[]string{"account"},
	)

	// NotificationsSentTotal counts delivered notifications by kind.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amroute_notifications_sent_total",
			Help: "Total notifications delivered, by integration kind.",
		},
		[]string{"kind"},
	)

	// NotificationsFailedTotal counts abandoned notifications by kind and
	// failure class.
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amroute_notifications_failed_total",
			Help: "Total notifications abandoned, by integration kind and failure class.",
		},
		[]string{"kind", "reason"},
	)

	// NotificationRetriesTotal counts notification send retries by kind.
	NotificationRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amroute_notification_retries_total",
			Help: "Total notification delivery retries, by integration kind.",
		},
		[]string{"kind"},
	)
)

// Failure classes for NotificationsFailedTotal.
const (
	ReasonPermanent = "permanent"
	ReasonExhausted = "retries_exhausted"
)
