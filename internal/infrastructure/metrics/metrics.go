package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DeliveryLive     = "live"
	DeliveryRemote   = "remote"
	DeliveryDeferred = "deferred"
)

var (
	// LiveConnections counts connections currently registered on this node.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadchat_live_connections",
		Help: "Websocket connections registered on this node.",
	})

	SupersededConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadchat_superseded_connections_total",
		Help: "Connections closed because the same user connected again.",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadchat_messages_sent_total",
		Help: "Persisted chat messages by how the recipient was reached.",
	}, []string{"delivery"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadchat_gateway_errors_total",
		Help: "Error events sent to clients by kind.",
	}, []string{"kind"})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadchat_store_operation_seconds",
		Help:    "Message store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
)
