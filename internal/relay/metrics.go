package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "pwa_chat",
		Name:      "connected_clients",
		Help:      "Currently connected websocket tabs across all users.",
	})

	metricEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "pwa_chat",
		Name:      "events_emitted_total",
		Help:      "Seq-bearing server events emitted, by event type.",
	}, []string{"type"})

	metricSendDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "pwa_chat",
		Name:      "send_drops_total",
		Help:      "Events dropped because a client queue was full or closing.",
	})

	metricDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "pwa_chat",
		Name:      "dispatches_total",
		Help:      "Inbound messages handed to the agent runtime.",
	})

	metricPushNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "pwa_chat",
		Name:      "push_notifications_total",
		Help:      "Push notification batches fired for users with no live tab.",
	})
)
