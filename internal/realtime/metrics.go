package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Websocket connections currently attached to the broker.",
	})

	presenceMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_presence_members",
		Help: "Presence entries per channel, one per connection.",
	}, []string{"channel"})

	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_messages_published_total",
		Help: "Messages published per channel and event name.",
	}, []string{"channel", "name"})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_delivery_failures_total",
		Help: "Fan-out deliveries that failed and detached the receiving connection.",
	})
)
