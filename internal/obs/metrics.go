// Package obs exposes the engine's Prometheus instrumentation.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_checks_total",
		Help: "Health check cycles by outcome (ok, failed, skipped).",
	}, []string{"outcome"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_alerts_created_total",
		Help: "Alerts created by severity.",
	}, []string{"severity"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_notifications_total",
		Help: "Channel delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	JobTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_job_ticks_total",
		Help: "Scheduler job ticks by job kind and outcome.",
	}, []string{"job", "outcome"})
)
