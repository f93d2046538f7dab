// Package metrics holds the supervisor's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drynomore"

var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "frames_received_total",
		Help:      "Frames received from nodes, by tag.",
	}, []string{"tag"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "frames_rejected_total",
		Help:      "Frames discarded by the listener, by reason.",
	}, []string{"reason"})

	Connections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "connections_total",
		Help:      "Node connections accepted.",
	})

	StatusReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "status_reports_total",
		Help:      "Status reports offered to the store, by outcome.",
	}, []string{"outcome"})

	SettingsChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "settings_changes_total",
		Help:      "Settings replacements, by source.",
	}, []string{"source"})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dropped_total",
		Help:      "Alerts dropped because the queue was full.",
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "length",
		Help:      "Alerts waiting for the notification loop.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notifications handed to sinks, by sink and result.",
	}, []string{"sink", "result"})

	HistoryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "events_total",
		Help:      "History events stored, by engine and result.",
	}, []string{"engine", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
